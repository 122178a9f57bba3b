package bytecode

import (
	"github.com/pkg/errors"

	"github.com/agimlang/agim/internal/value"
)

// Inst is a single decoded instruction: opcode plus up to two inline
// operands. Operand meaning is opcode-specific (constant index, jump
// offset, local slot, host-op id, arg count, ...).
type Inst struct {
	Op   Op
	A, B int32
	Line int
}

// Chunk is one instruction stream (the main stream or a function body) with
// its parallel line-number side table.
type Chunk struct {
	Code []Inst
	// NumLocals is the maximum local-slot count reserved for this chunk's
	// call frame (includes the function-itself slot at index 0).
	NumLocals int
	// ICSlots is the number of inline-cache slots reserved for MAP_GET_IC
	// call sites in this chunk.
	ICSlots int
}

func (c *Chunk) emit(op Op, a, b int32, line int) int {
	c.Code = append(c.Code, Inst{Op: op, A: a, B: b, Line: line})
	return len(c.Code) - 1
}

// FuncInfo records the function table entry referenced by Function values.
type FuncInfo struct {
	Name    string
	Arity   int
	Chunk   *Chunk
}

// StructInfo records a struct type's field schema in declaration order, so
// STRUCT_NEW can build a structCell without carrying per-field names as
// instruction operands.
type StructInfo struct {
	Name   string
	Fields []string
}

// ToolParam describes one parameter in the tool-metadata table.
type ToolParam struct {
	Name        string
	Type        string
	Description string
}

// ToolInfo is a discoverable tool entry, exposed to scripts via the
// list_tools/tool_schema host calls.
type ToolInfo struct {
	FuncIndex   int
	Name        string
	Description string
	Params      []ToolParam
	ReturnType  string
}

// Program is the full bundle the compiler produces and the VM loads: a main
// stream, a function table, a constant pool, an interned name table, and a
// tool-metadata table.
type Program struct {
	Main      *Chunk
	Functions []*FuncInfo
	Constants []value.Value
	Names     []string
	Tools     []*ToolInfo
	Structs   []*StructInfo

	nameIdx   map[string]int
	structIdx map[string]int
}

// NewProgram returns an empty Program ready for the compiler to populate.
func NewProgram() *Program {
	return &Program{Main: &Chunk{}, nameIdx: map[string]int{}, structIdx: map[string]int{}}
}

// InternStruct registers (or returns the existing index of) a struct type's
// field schema, in declaration order.
func (p *Program) InternStruct(name string, fields []string) int {
	if p.structIdx == nil {
		p.structIdx = map[string]int{}
	}
	if i, ok := p.structIdx[name]; ok {
		return i
	}
	i := len(p.Structs)
	p.Structs = append(p.Structs, &StructInfo{Name: name, Fields: fields})
	p.structIdx[name] = i
	return i
}

// AddConstant interns val into the constant pool in first-use order (the
// ordering needed for byte-for-byte compiler determinism) and
// returns its 16-bit index.
func (p *Program) AddConstant(val value.Value) (int, error) {
	if len(p.Constants) >= 1<<16 {
		return 0, errors.New("constant pool exceeded 65536 entries")
	}
	p.Constants = append(p.Constants, val)
	return len(p.Constants) - 1, nil
}

// Intern returns the index of name in the name table, adding it on first
// use.
func (p *Program) Intern(name string) int {
	if p.nameIdx == nil {
		p.nameIdx = map[string]int{}
	}
	if i, ok := p.nameIdx[name]; ok {
		return i
	}
	i := len(p.Names)
	p.Names = append(p.Names, name)
	p.nameIdx[name] = i
	return i
}

// AddFunction registers a new function chunk and returns its index.
func (p *Program) AddFunction(fi *FuncInfo) int {
	p.Functions = append(p.Functions, fi)
	return len(p.Functions) - 1
}

// Validate does a minimal self-consistency pass over the bundle, wrapping
// the first violation with pkg/errors so callers get a stack-trace-bearing
// diagnostic, matching the ngaro interpreter's error-wrapping style.
func (p *Program) Validate() error {
	checkChunk := func(c *Chunk, label string) error {
		for i, inst := range c.Code {
			switch inst.Op {
			case OpConst:
				if int(inst.A) < 0 || int(inst.A) >= len(p.Constants) {
					return errors.Wrapf(errInvalidOperand, "%s instruction %d: constant index %d out of range", label, i, inst.A)
				}
			case OpJump, OpJumpUnless, OpLoop:
				target := i + int(inst.A)
				if target < 0 || target > len(c.Code) {
					return errors.Wrapf(errInvalidOperand, "%s instruction %d: jump target %d out of range", label, i, target)
				}
			}
		}
		return nil
	}
	if err := checkChunk(p.Main, "main"); err != nil {
		return err
	}
	for idx, fn := range p.Functions {
		if err := checkChunk(fn.Chunk, "function "+fn.Name); err != nil {
			return errors.Wrapf(err, "function table entry %d", idx)
		}
	}
	return nil
}

var errInvalidOperand = errors.New("invalid bytecode operand")
