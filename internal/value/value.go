// Package value implements Agim's tagged-union runtime value and its
// copy-on-write composite semantics.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unsafe"
)

// Kind discriminates a Value's variant.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindMap
	KindStruct
	KindEnum
	KindOption
	KindResult
	KindFunction
	KindPid
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindOption:
		return "option"
	case KindResult:
		return "result"
	case KindFunction:
		return "function"
	case KindPid:
		return "pid"
	}
	return "unknown"
}

// Value is the runtime atom. The zero Value is Nil.
//
// Composite payloads (Array, Map, Struct) are stored behind a pointer to a
// reference-counted cell so that copying a Value is O(1) and mutation only
// clones when the cell is shared (copy-on-write).
type Value struct {
	kind Kind
	i    int64   // Int, Bool (0/1), Pid
	f    float64 // Float
	s    string  // String, struct/enum type name carried via str field below when needed

	str *stringCell
	arr *arrayCell
	m   *mapCell
	st  *structCell
	en  *enumCell
	opt *optionCell
	res *resultCell
	fn  *Function
}

// Function is an immutable descriptor; equality is by identity of the
// underlying pointer (func values compare by identity).
type Function struct {
	Name     string
	Arity    int
	CodeIdx  int
	Upvalues []Value
}

// ---- constructors ----

var (
	Nil   = Value{kind: KindNil}
	True  = Value{kind: KindBool, i: 1}
	False = Value{kind: KindBool, i: 0}
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

type stringCell struct{ s string }

func String(s string) Value { return Value{kind: KindString, str: &stringCell{s}} }

func Bytes(b []byte) Value {
	return Value{kind: KindBytes, str: &stringCell{string(b)}}
}

func Pid(id uint64) Value { return Value{kind: KindPid, i: int64(id)} }

func Func(f *Function) Value { return Value{kind: KindFunction, fn: f} }

// ---- array ----

type arrayCell struct {
	refs int32
	elems []Value
}

func Array(elems []Value) Value {
	return Value{kind: KindArray, arr: &arrayCell{refs: 1, elems: elems}}
}

func EmptyArray() Value { return Array(nil) }

// ---- map (insertion-order preserving) ----

type mapCell struct {
	refs       int32
	generation uint64 // bumped on structural change; backs inline-cache invalidation
	keys       []string
	idx        map[string]int
	vals       map[string]Value
}

func newMapCell() *mapCell {
	return &mapCell{refs: 1, idx: map[string]int{}, vals: map[string]Value{}}
}

func Map() Value { return Value{kind: KindMap, m: newMapCell()} }

// ---- struct ----

type structCell struct {
	refs       int32
	generation uint64 // bumped on field mutation; backs inline-cache invalidation like mapCell
	typ        string
	fields     []string
	vals       map[string]Value
}

func Struct(typ string, fields []string, vals map[string]Value) Value {
	return Value{kind: KindStruct, st: &structCell{refs: 1, typ: typ, fields: fields, vals: vals}}
}

// ---- enum ----

type enumCell struct {
	typ     string
	variant string
	payload *Value
}

func Enum(typ, variant string, payload *Value) Value {
	return Value{kind: KindEnum, en: &enumCell{typ: typ, variant: variant, payload: payload}}
}

// ---- option ----

type optionCell struct{ v *Value }

func Some(v Value) Value { return Value{kind: KindOption, opt: &optionCell{v: &v}} }
func None() Value        { return Value{kind: KindOption, opt: &optionCell{v: nil}} }

// ---- result ----

type resultCell struct {
	ok  bool
	v   Value
}

func Ok(v Value) Value  { return Value{kind: KindResult, res: &resultCell{ok: true, v: v}} }
func Err(v Value) Value { return Value{kind: KindResult, res: &resultCell{ok: false, v: v}} }

// ---- accessors ----

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }

func (v Value) Bool() bool { return v.i != 0 }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) PidValue() uint64 { return uint64(v.i) }

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindBytes:
		return v.str.s
	case KindArray:
		parts := make([]string, len(v.arr.elems))
		for i, e := range v.arr.elems {
			parts[i] = e.Repr()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range v.m.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", k, v.m.vals[k].Repr())
		}
		b.WriteByte('}')
		return b.String()
	case KindStruct:
		var b strings.Builder
		fmt.Fprintf(&b, "%s{", v.st.typ)
		for i, f := range v.st.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", f, v.st.vals[f].Repr())
		}
		b.WriteByte('}')
		return b.String()
	case KindEnum:
		if v.en.payload != nil {
			return fmt.Sprintf("%s::%s(%s)", v.en.typ, v.en.variant, v.en.payload.Repr())
		}
		return fmt.Sprintf("%s::%s", v.en.typ, v.en.variant)
	case KindOption:
		if v.opt.v == nil {
			return "none"
		}
		return "some(" + v.opt.v.Repr() + ")"
	case KindResult:
		if v.res.ok {
			return "ok(" + v.res.v.Repr() + ")"
		}
		return "err(" + v.res.v.Repr() + ")"
	case KindFunction:
		return "fn " + v.fn.Name
	case KindPid:
		return fmt.Sprintf("pid<%d>", v.i)
	}
	return "?"
}

// Repr renders strings quoted, used when nesting a value inside a
// container's String() rendering.
func (v Value) Repr() string {
	if v.kind == KindString {
		return strconv.Quote(v.str.s)
	}
	return v.String()
}

// BytesValue returns the raw bytes payload.
func (v Value) BytesValue() []byte { return []byte(v.str.s) }

// ---- array accessors / COW mutation ----

func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr.elems)
	case KindMap:
		return len(v.m.keys)
	case KindString, KindBytes:
		return len(v.str.s)
	}
	return 0
}

func (v Value) ArrayElems() []Value { return v.arr.elems }

func (v Value) ArrayGet(i int) (Value, bool) {
	if i < 0 || i >= len(v.arr.elems) {
		return Nil, false
	}
	return v.arr.elems[i], true
}

// ArraySet returns a new array Value with index i set to val, cloning the
// backing slice only if this cell is shared by more than one owner.
func (v Value) ArraySet(i int, val Value) (Value, error) {
	if i < 0 || i >= len(v.arr.elems) {
		return v, fmt.Errorf("index %d out of range (len %d)", i, len(v.arr.elems))
	}
	cell := v.arr
	if cell.refs > 1 {
		cloned := make([]Value, len(cell.elems))
		copy(cloned, cell.elems)
		cell.refs--
		cell = &arrayCell{refs: 1, elems: cloned}
	}
	cell.elems[i] = val
	return Value{kind: KindArray, arr: cell}, nil
}

// ArrayPush returns a new array Value with val appended.
func (v Value) ArrayPush(val Value) Value {
	cell := v.arr
	if cell.refs > 1 {
		cloned := make([]Value, len(cell.elems), len(cell.elems)+1)
		copy(cloned, cell.elems)
		cell.refs--
		cell = &arrayCell{refs: 1, elems: cloned}
	}
	cell.elems = append(cell.elems, val)
	return Value{kind: KindArray, arr: cell}
}

// ArrayPop returns a new array Value with the last element removed, and that
// element.
func (v Value) ArrayPop() (Value, Value, error) {
	if len(v.arr.elems) == 0 {
		return v, Nil, fmt.Errorf("pop from empty array")
	}
	cell := v.arr
	last := cell.elems[len(cell.elems)-1]
	if cell.refs > 1 {
		cloned := make([]Value, len(cell.elems)-1)
		copy(cloned, cell.elems[:len(cell.elems)-1])
		cell.refs--
		cell = &arrayCell{refs: 1, elems: cloned}
	} else {
		cell.elems = cell.elems[:len(cell.elems)-1]
	}
	return Value{kind: KindArray, arr: cell}, last, nil
}

func (v Value) ArraySlice(lo, hi int) Value {
	n := len(v.arr.elems)
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	out := make([]Value, hi-lo)
	copy(out, v.arr.elems[lo:hi])
	return Array(out)
}

// Retain increments the share count of a composite value; call when a second
// alias (e.g. a local slot, a closure upvalue) starts observing the same
// cell.
func (v Value) Retain() Value {
	switch v.kind {
	case KindArray:
		v.arr.refs++
	case KindMap:
		v.m.refs++
	case KindStruct:
		v.st.refs++
	}
	return v
}

// ---- map accessors / COW mutation ----

func (v Value) MapGet(key string) (Value, bool) {
	val, ok := v.m.vals[key]
	return val, ok
}

func (v Value) MapGeneration() uint64 { return v.m.generation }

// PropGeneration returns the mutation counter backing inline-cache
// invalidation for any property-bearing value (Map or Struct); 0 for
// anything else, which never validates a cache hit.
func (v Value) PropGeneration() uint64 {
	switch v.kind {
	case KindMap:
		return v.m.generation
	case KindStruct:
		return v.st.generation
	default:
		return 0
	}
}

func (v Value) MapKeys() []string {
	out := make([]string, len(v.m.keys))
	copy(out, v.m.keys)
	return out
}

func (v Value) MapSet(key string, val Value) Value {
	cell := v.m
	if cell.refs > 1 {
		cell.refs--
		cell = cloneMapCell(cell)
	}
	if _, exists := cell.idx[key]; !exists {
		cell.idx[key] = len(cell.keys)
		cell.keys = append(cell.keys, key)
	}
	cell.vals[key] = val
	cell.generation++
	return Value{kind: KindMap, m: cell}
}

func cloneMapCell(src *mapCell) *mapCell {
	dst := newMapCell()
	dst.keys = append(dst.keys, src.keys...)
	for k, i := range src.idx {
		dst.idx[k] = i
	}
	for k, val := range src.vals {
		dst.vals[k] = val
	}
	dst.generation = src.generation
	return dst
}

// ---- struct accessors / COW mutation ----

func (v Value) StructType() string       { return v.st.typ }
func (v Value) StructFields() []string   { return v.st.fields }
func (v Value) StructGeneration() uint64 { return v.st.generation }

func (v Value) StructGet(field string) (Value, bool) {
	val, ok := v.st.vals[field]
	return val, ok
}

func (v Value) StructSet(field string, val Value) (Value, error) {
	if _, ok := v.st.vals[field]; !ok {
		return v, fmt.Errorf("struct %s has no field %q", v.st.typ, field)
	}
	cell := v.st
	if cell.refs > 1 {
		cell.refs--
		cloned := &structCell{refs: 1, typ: cell.typ, fields: append([]string(nil), cell.fields...), vals: map[string]Value{}}
		for k, val := range cell.vals {
			cloned.vals[k] = val
		}
		cell = cloned
	}
	cell.vals[field] = val
	cell.generation++
	return Value{kind: KindStruct, st: cell}, nil
}

// ---- enum accessors ----

func (v Value) EnumType() string    { return v.en.typ }
func (v Value) EnumVariant() string { return v.en.variant }
func (v Value) EnumPayload() (Value, bool) {
	if v.en.payload == nil {
		return Nil, false
	}
	return *v.en.payload, true
}

// ---- option accessors ----

func (v Value) IsSome() bool { return v.opt.v != nil }
func (v Value) IsNone() bool { return v.opt.v == nil }
func (v Value) OptionValue() (Value, bool) {
	if v.opt.v == nil {
		return Nil, false
	}
	return *v.opt.v, true
}

// ---- result accessors ----

func (v Value) IsOk() bool  { return v.res.ok }
func (v Value) IsErr() bool { return !v.res.ok }
func (v Value) ResultValue() Value { return v.res.v }

// ---- function accessors ----

func (v Value) FunctionDescriptor() *Function { return v.fn }

// ---- truthiness / type name ----

// Truthy implements Agim's notion of a "falsy" value for `and`/`or`/`if`:
// nil, false, 0, 0.0, "" and none are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.i != 0
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.str.s != ""
	case KindOption:
		return v.opt.v != nil
	}
	return true
}

// TypeName implements the `type` built-in.
func (v Value) TypeName() string { return v.kind.String() }

// Equal implements structural equality for primitives/strings/arrays/maps/
// structs/enums, and identity equality for functions and PIDs.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// int/float cross-kind equality is not promoted; Agim keeps strict kinds.
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString, KindBytes:
		return a.str.s == b.str.s
	case KindPid:
		return a.i == b.i
	case KindFunction:
		return a.fn == b.fn
	case KindArray:
		if len(a.arr.elems) != len(b.arr.elems) {
			return false
		}
		for i := range a.arr.elems {
			if !Equal(a.arr.elems[i], b.arr.elems[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m.keys) != len(b.m.keys) {
			return false
		}
		for _, k := range a.m.keys {
			bv, ok := b.m.vals[k]
			if !ok || !Equal(a.m.vals[k], bv) {
				return false
			}
		}
		return true
	case KindStruct:
		if a.st.typ != b.st.typ || len(a.st.fields) != len(b.st.fields) {
			return false
		}
		for _, f := range a.st.fields {
			if !Equal(a.st.vals[f], b.st.vals[f]) {
				return false
			}
		}
		return true
	case KindEnum:
		if a.en.typ != b.en.typ || a.en.variant != b.en.variant {
			return false
		}
		if (a.en.payload == nil) != (b.en.payload == nil) {
			return false
		}
		if a.en.payload == nil {
			return true
		}
		return Equal(*a.en.payload, *b.en.payload)
	case KindOption:
		if (a.opt.v == nil) != (b.opt.v == nil) {
			return false
		}
		if a.opt.v == nil {
			return true
		}
		return Equal(*a.opt.v, *b.opt.v)
	case KindResult:
		if a.res.ok != b.res.ok {
			return false
		}
		return Equal(a.res.v, b.res.v)
	}
	return false
}

// PropGet reads a named property off a Map or Struct value uniformly, the
// way member-access bytecode (MAP_GET_IC) addresses either representation.
func (v Value) PropGet(key string) (Value, bool) {
	switch v.kind {
	case KindMap:
		return v.MapGet(key)
	case KindStruct:
		return v.StructGet(key)
	default:
		return Nil, false
	}
}

// PropSet writes a named property on a Map or Struct value uniformly (the
// runtime counterpart of MAP_SET used for both `x.field = v` and map-literal
// construction). Setting an unknown field on a Struct is an error; Maps
// accept new keys freely.
func (v Value) PropSet(key string, val Value) (Value, error) {
	switch v.kind {
	case KindMap:
		return v.MapSet(key, val), nil
	case KindStruct:
		return v.StructSet(key, val)
	default:
		return v, fmt.Errorf("cannot set property %q on a %s", key, v.kind)
	}
}

// ContainerIdentity returns the underlying cell's address for Map and Struct
// values, 0 otherwise. Combined with PropGeneration, it is the fingerprint an
// inline cache validates a hit against: same cell, same generation.
func (v Value) ContainerIdentity() uintptr {
	switch v.kind {
	case KindMap:
		return uintptr(unsafe.Pointer(v.m))
	case KindStruct:
		return uintptr(unsafe.Pointer(v.st))
	}
	return 0
}

// SortedMapKeys is a convenience used by deterministic-rendering callers
// (e.g. GET_STATS payloads) that want key order independent of insertion.
func SortedMapKeys(v Value) []string {
	keys := v.MapKeys()
	sort.Strings(keys)
	return keys
}
