package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agimlang/agim/internal/value"
)

func TestCOWArrayMutationDoesNotAffectAlias(t *testing.T) {
	base := value.Array([]value.Value{value.Int(1), value.Int(2), value.Int(3)})
	alias := base.Retain() // simulate a second owner, e.g. a second local slot

	mutated, err := alias.ArraySet(0, value.Int(99))
	require.NoError(t, err)

	got0, _ := base.ArrayGet(0)
	assert.Equal(t, int64(1), got0.Int(), "original must be unaffected by COW mutation through alias")

	mGot0, _ := mutated.ArrayGet(0)
	assert.Equal(t, int64(99), mGot0.Int())
}

func TestCOWMapMutationDoesNotAffectAlias(t *testing.T) {
	base := value.Map().MapSet("a", value.Int(1))
	alias := base.Retain()

	mutated := alias.MapSet("a", value.Int(2))
	got, _ := base.MapGet("a")
	assert.Equal(t, int64(1), got.Int())
	mgot, _ := mutated.MapGet("a")
	assert.Equal(t, int64(2), mgot.Int())
}

func TestEqualityStructural(t *testing.T) {
	a := value.Array([]value.Value{value.Int(1), value.String("x")})
	b := value.Array([]value.Value{value.Int(1), value.String("x")})
	assert.True(t, value.Equal(a, b))

	m1 := value.Map().MapSet("k", value.Int(1))
	m2 := value.Map().MapSet("k", value.Int(1))
	assert.True(t, value.Equal(m1, m2))
}

func TestEqualityFunctionAndPidAreIdentity(t *testing.T) {
	f1 := value.Func(&value.Function{Name: "f"})
	f2 := value.Func(&value.Function{Name: "f"})
	assert.False(t, value.Equal(f1, f2))
	assert.True(t, value.Equal(f1, f1))
}

func TestArithmeticPromotion(t *testing.T) {
	r, err := value.Add(value.Int(2), value.Int(3))
	require.NoError(t, err)
	assert.Equal(t, value.KindInt, r.Kind())
	assert.Equal(t, int64(5), r.Int())

	r2, err := value.Add(value.Int(2), value.Float(3.5))
	require.NoError(t, err)
	assert.Equal(t, value.KindFloat, r2.Kind())
	assert.Equal(t, 5.5, r2.Float())
}

func TestDivisionByZero(t *testing.T) {
	_, err := value.Div(value.Int(1), value.Int(0))
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	assert.False(t, value.Nil.Truthy())
	assert.False(t, value.Int(0).Truthy())
	assert.True(t, value.Int(1).Truthy())
	assert.False(t, value.String("").Truthy())
	assert.True(t, value.String("x").Truthy())
	assert.False(t, value.None().Truthy())
}

func TestMapGenerationBumpsOnStructuralChange(t *testing.T) {
	m := value.Map()
	g0 := m.MapGeneration()
	m2 := m.MapSet("a", value.Int(1))
	assert.NotEqual(t, g0, m2.MapGeneration())
}
