// Package ast defines the Agim abstract syntax tree. Every node is owned by
// its parent; children never hold back-pointers, so the tree is a strict
// owner hierarchy with no cycles.
package ast

// Node is implemented by every AST node.
type Node interface {
	Line() int
}

// Base carries the source line every node is required to populate. Embed it
// by value and set Ln from the producing token's line.
type Base struct {
	Ln int
}

// Line returns the source line the producing lexer token carried.
func (b Base) Line() int { return b.Ln }

// NewBase constructs a Base for the given line, for use by the parser.
func NewBase(line int) Base { return Base{Ln: line} }

// Program is the root of a parsed file: an ordered list of declarations.
type Program struct {
	Decls []Decl
}

func (p *Program) Line() int { return 0 }

// Decl is any top-level or nested declaration.
type Decl interface {
	Node
	declNode()
}

// Stmt is any statement.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is any expression.
type Expr interface {
	Node
	exprNode()
}

// ---- Type annotations ----

type TypeAnn struct {
	Base
	Name string // "int", "string", "Option", "map", "array", "fn", user name, "any"
	Args []*TypeAnn
}

// ---- Declarations ----

type Param struct {
	Base
	Name string
	Type *TypeAnn // nil if unannotated
}

type ToolMeta struct {
	Description string
	ParamDescs  map[string]string
	ParamTypes  map[string]string
	Extra       map[string]string // unknown decorator keys parse and discard; kept for completeness
}

type FuncDecl struct {
	Base
	Name     string
	Params   []Param
	RetType  *TypeAnn
	Body     []Stmt
	IsTool   bool
	ToolMeta *ToolMeta
	Exported bool
}

func (*FuncDecl) declNode() {}

type LetDecl struct {
	Base
	Name     string
	Mut      bool
	Const    bool
	Type     *TypeAnn
	Value    Expr
	Exported bool
}

func (*LetDecl) declNode() {}
func (*LetDecl) stmtNode() {}

type StructField struct {
	Name string
	Type *TypeAnn
}

type StructDecl struct {
	Base
	Name     string
	Fields   []StructField
	Exported bool
}

func (*StructDecl) declNode() {}

type EnumVariantDecl struct {
	Name        string
	PayloadType *TypeAnn // nil if no payload
}

type EnumDecl struct {
	Base
	Name     string
	Variants []EnumVariantDecl
	Exported bool
}

func (*EnumDecl) declNode() {}

type AliasDecl struct {
	Base
	Name string
	Type *TypeAnn
}

func (*AliasDecl) declNode() {}

type ImportDecl struct {
	Base
	Path  string
	Names []string // nil means "import everything exported"
}

func (*ImportDecl) declNode() {}

// ---- Statements ----

type ExprStmt struct {
	Base
	X Expr
}

func (*ExprStmt) stmtNode() {}

type BlockStmt struct {
	Base
	Stmts []Stmt
}

func (*BlockStmt) stmtNode() {}

type ReturnStmt struct {
	Base
	Value Expr // nil for bare return
}

func (*ReturnStmt) stmtNode() {}

type BreakStmt struct{ Base }

func (*BreakStmt) stmtNode() {}

type ContinueStmt struct{ Base }

func (*ContinueStmt) stmtNode() {}

type WhileStmt struct {
	Base
	Cond Expr
	Body *BlockStmt
}

func (*WhileStmt) stmtNode() {}

type ForStmt struct {
	Base
	ItemName  string
	IndexName string // "" if not bound
	Iter      Expr
	Body      *BlockStmt
}

func (*ForStmt) stmtNode() {}

// ---- Expressions ----

type IntLit struct {
	Base
	Value int64
}

func (*IntLit) exprNode() {}

type FloatLit struct {
	Base
	Value float64
}

func (*FloatLit) exprNode() {}

type StringLit struct {
	Base
	Value string
}

func (*StringLit) exprNode() {}

type BoolLit struct {
	Base
	Value bool
}

func (*BoolLit) exprNode() {}

type NilLit struct{ Base }

func (*NilLit) exprNode() {}

type Ident struct {
	Base
	Name string
}

func (*Ident) exprNode() {}

type UnaryExpr struct {
	Base
	Op string // "-" or "not"
	X  Expr
}

func (*UnaryExpr) exprNode() {}

type BinaryExpr struct {
	Base
	Op   string
	X, Y Expr
}

func (*BinaryExpr) exprNode() {}

type AssignExpr struct {
	Base
	Op     string // "=" "+=" "-=" "*=" "/="
	Target Expr
	Value  Expr
}

func (*AssignExpr) exprNode() {}

type TernaryExpr struct {
	Base
	Cond, Then, Else Expr
}

func (*TernaryExpr) exprNode() {}

type RangeExpr struct {
	Base
	Lo, Hi    Expr
	Inclusive bool
}

func (*RangeExpr) exprNode() {}

type CallArg struct {
	Value  Expr
	Spread bool // true if this arg was `...expr`
}

type CallExpr struct {
	Base
	Callee Expr
	Args   []CallArg
}

func (*CallExpr) exprNode() {}

type MemberExpr struct {
	Base
	X    Expr
	Name string
}

func (*MemberExpr) exprNode() {}

type IndexExpr struct {
	Base
	X, Index Expr
}

func (*IndexExpr) exprNode() {}

type StructInitField struct {
	Name  string
	Value Expr
}

type StructInitExpr struct {
	Base
	Type   string
	Fields []StructInitField
}

func (*StructInitExpr) exprNode() {}

type ArrayLit struct {
	Base
	Elems []Expr
}

func (*ArrayLit) exprNode() {}

type MapEntry struct {
	Key   Expr
	Value Expr
}

type MapLit struct {
	Base
	Entries []MapEntry
}

func (*MapLit) exprNode() {}

type TryExpr struct {
	Base
	X Expr
}

func (*TryExpr) exprNode() {}

type OkExpr struct {
	Base
	X Expr
}

func (*OkExpr) exprNode() {}

type ErrExpr struct {
	Base
	X Expr
}

func (*ErrExpr) exprNode() {}

type SomeExpr struct {
	Base
	X Expr
}

func (*SomeExpr) exprNode() {}

type NoneExpr struct{ Base }

func (*NoneExpr) exprNode() {}

type EnumConstructExpr struct {
	Base
	Type    string
	Variant string
	Payload Expr // nil if no payload
}

func (*EnumConstructExpr) exprNode() {}

// IfExpr is used both as a statement (value discarded by the compiler at
// statement level) and as an expression (both arms push a value; a missing
// else pushes nil).
type IfExpr struct {
	Base
	Cond Expr
	Then *BlockStmt
	Else Node // *BlockStmt or *IfExpr, nil if no else
}

func (*IfExpr) exprNode() {}
func (*IfExpr) stmtNode() {}

// MatchArmKind discriminates the three match forms.
type MatchArmKind int

const (
	ArmOk MatchArmKind = iota
	ArmErr
	ArmSome
	ArmNone
	ArmEnumVariant
)

type MatchArm struct {
	Kind    MatchArmKind
	Variant string // for ArmEnumVariant
	Bind    string // bound identifier name, "" if none
	Body    []Stmt
	Line    int
}

type MatchExpr struct {
	Base
	Subject Expr
	Arms    []MatchArm
}

func (*MatchExpr) exprNode() {}

type SpreadExpr struct {
	Base
	X Expr
}

func (*SpreadExpr) exprNode() {}
