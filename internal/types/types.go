// Package types implements Agim's optional gradual type checker: a
// two-pass static pass over a parsed program that can be skipped entirely
// (the VM never consults it) but catches obvious mismatches before
// compilation when a caller opts in.
package types

import (
	"fmt"

	"github.com/agimlang/agim/internal/ast"
)

// Kind discriminates the recognized type shapes.
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindVoid
	KindBytes
	KindPid
	KindOption
	KindResult
	KindMap
	KindArray
	KindFunc
	KindStruct
	KindEnum
)

// Type is a resolved type annotation. Args holds Option<T>'s T,
// Result<T,E>'s [T,E], map<K,V>'s [K,V], array [T]'s [T], and fn(...)->T's
// parameter types followed by the return type.
type Type struct {
	Kind Kind
	Name string // struct/enum name
	Args []Type
}

func (t Type) String() string {
	switch t.Kind {
	case KindAny:
		return "any"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindVoid:
		return "void"
	case KindBytes:
		return "bytes"
	case KindPid:
		return "Pid"
	case KindOption:
		return fmt.Sprintf("Option<%s>", t.Args[0])
	case KindResult:
		return fmt.Sprintf("Result<%s,%s>", t.Args[0], t.Args[1])
	case KindMap:
		return fmt.Sprintf("map<%s,%s>", t.Args[0], t.Args[1])
	case KindArray:
		return fmt.Sprintf("[%s]", t.Args[0])
	case KindFunc:
		return "fn(...)"
	case KindStruct:
		return t.Name
	case KindEnum:
		return t.Name
	default:
		return "?"
	}
}

var (
	Any    = Type{Kind: KindAny}
	Int    = Type{Kind: KindInt}
	Float  = Type{Kind: KindFloat}
	String = Type{Kind: KindString}
	Bool   = Type{Kind: KindBool}
	Void   = Type{Kind: KindVoid}
	Bytes  = Type{Kind: KindBytes}
	PidT   = Type{Kind: KindPid}
)

func optionOf(t Type) Type { return Type{Kind: KindOption, Args: []Type{t}} }

// assignable reports whether a value of type src may be used where dst is
// expected: `any` is a universal wildcard both ways, and nil assigns to
// any Option<T>.
func assignable(dst, src Type) bool {
	if dst.Kind == KindAny || src.Kind == KindAny {
		return true
	}
	if dst.Kind == KindOption && src.Kind == KindOption && src.Args[0].Kind == KindAny {
		return true // bare `none` literal resolves to Option<any>
	}
	if dst.Kind != src.Kind {
		return false
	}
	switch dst.Kind {
	case KindOption, KindResult, KindMap:
		for i := range dst.Args {
			if !assignable(dst.Args[i], src.Args[i]) {
				return false
			}
		}
		return true
	case KindArray:
		return assignable(dst.Args[0], src.Args[0])
	case KindStruct, KindEnum:
		return dst.Name == src.Name
	default:
		return true
	}
}

// resolveAnn turns a parsed *ast.TypeAnn into a checked Type.
func resolveAnn(env *Env, ann *ast.TypeAnn) (Type, error) {
	if ann == nil {
		return Any, nil
	}
	switch ann.Name {
	case "any":
		return Any, nil
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "string":
		return String, nil
	case "bool":
		return Bool, nil
	case "void":
		return Void, nil
	case "bytes":
		return Bytes, nil
	case "nil":
		return Any, nil
	case "Pid":
		return PidT, nil
	case "Option":
		if len(ann.Args) != 1 {
			return Type{}, fmt.Errorf("Option requires exactly one type argument")
		}
		arg, err := resolveAnn(env, ann.Args[0])
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindOption, Args: []Type{arg}}, nil
	case "Result":
		if len(ann.Args) != 2 {
			return Type{}, fmt.Errorf("Result requires exactly two type arguments")
		}
		ok, err := resolveAnn(env, ann.Args[0])
		if err != nil {
			return Type{}, err
		}
		errT, err := resolveAnn(env, ann.Args[1])
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindResult, Args: []Type{ok, errT}}, nil
	case "map":
		if len(ann.Args) != 2 {
			return Type{}, fmt.Errorf("map requires exactly two type arguments")
		}
		k, err := resolveAnn(env, ann.Args[0])
		if err != nil {
			return Type{}, err
		}
		v, err := resolveAnn(env, ann.Args[1])
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindMap, Args: []Type{k, v}}, nil
	case "array":
		if len(ann.Args) != 1 {
			return Type{}, fmt.Errorf("array requires exactly one type argument")
		}
		elem, err := resolveAnn(env, ann.Args[0])
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: KindArray, Args: []Type{elem}}, nil
	case "fn":
		args := make([]Type, len(ann.Args))
		for i, a := range ann.Args {
			t, err := resolveAnn(env, a)
			if err != nil {
				return Type{}, err
			}
			args[i] = t
		}
		return Type{Kind: KindFunc, Args: args}, nil
	default:
		if _, ok := env.structs[ann.Name]; ok {
			return Type{Kind: KindStruct, Name: ann.Name}, nil
		}
		if _, ok := env.enums[ann.Name]; ok {
			return Type{Kind: KindEnum, Name: ann.Name}, nil
		}
		return Type{}, fmt.Errorf("unknown type %q", ann.Name)
	}
}
