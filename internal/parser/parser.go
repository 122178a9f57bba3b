// Package parser implements Agim's recursive-descent, Pratt-style parser.
package parser

import (
	"fmt"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/lexer"
	"github.com/agimlang/agim/internal/token"
)

// MaxDepth bounds expression recursion so pathological input cannot blow the
// Go call stack; exceeding it is reported as a diagnostic, not a panic.
const MaxDepth = 256

// Diagnostic is the first parse error encountered.
type Diagnostic struct {
	Line    int
	Message string
}

func (d *Diagnostic) Error() string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// Parser holds parse state for a single source unit.
type Parser struct {
	cur          token.Token
	lex          *lexer.Lexer
	panicking    bool // panic-mode: suppress further diagnostics until resynced
	diag         *Diagnostic
	depth        int
	noStructLit  bool // true while parsing an `if`/`while`/`for` condition
}

// Parse parses src and returns a Program, or nil with the first Diagnostic.
func Parse(src string) (*ast.Program, *Diagnostic) {
	p := &Parser{lex: lexer.New(src)}
	p.advance()
	prog := &ast.Program{}
	p.skipNewlines()
	for !p.check(token.EOF) {
		if d := p.parseDecl(); d != nil {
			prog.Decls = append(prog.Decls, d)
		}
		p.skipNewlines()
	}
	if p.diag != nil {
		return nil, p.diag
	}
	return prog, nil
}

func (p *Parser) advance() {
	p.cur = p.lex.Next()
	if p.cur.Kind == token.ERROR {
		p.errorf(p.cur.Line, "%s", p.cur.Message)
	}
}

func (p *Parser) check(k token.Kind) bool { return p.cur.Kind == k }

func (p *Parser) match(k token.Kind) bool {
	if p.check(k) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) skipNewlines() {
	for p.check(token.NEWLINE) || p.check(token.SEMI) {
		p.advance()
	}
}

// starterKinds are tokens the synchronizer treats as legal starts of a new
// declaration or statement.
var starterKinds = map[token.Kind]bool{
	token.TOOL: true, token.FN: true, token.LET: true, token.CONST: true,
	token.IF: true, token.WHILE: true, token.FOR: true, token.RETURN: true,
	token.IMPORT: true, token.EXPORT: true, token.MATCH: true,
	token.STRUCT: true, token.ENUM: true, token.ALIAS: true,
}

func (p *Parser) errorf(line int, format string, args ...interface{}) {
	if p.panicking {
		return
	}
	if p.diag == nil {
		p.diag = &Diagnostic{Line: line, Message: fmt.Sprintf(format, args...)}
	}
	p.panicking = true
}

// synchronize consumes tokens until a statement/declaration starter or a
// newline, implementing "panic mode" recovery.
func (p *Parser) synchronize() {
	for !p.check(token.EOF) {
		if starterKinds[p.cur.Kind] {
			break
		}
		if p.check(token.NEWLINE) {
			p.advance()
			break
		}
		p.advance()
	}
	p.panicking = false
}

func (p *Parser) expect(k token.Kind, what string) bool {
	if p.check(k) {
		p.advance()
		return true
	}
	p.errorf(p.cur.Line, "expected %s, got %v", what, p.cur.Kind)
	return false
}

func (p *Parser) enter() bool {
	p.depth++
	if p.depth > MaxDepth {
		p.errorf(p.cur.Line, "expression nested too deeply (limit %d)", MaxDepth)
		return false
	}
	return true
}

func (p *Parser) leave() { p.depth-- }

// ---- Declarations ----

func (p *Parser) parseDecl() ast.Decl {
	defer p.recoverIfPanicking()
	switch {
	case p.check(token.AT), p.check(token.TOOL):
		return p.parseToolFunc()
	case p.check(token.FN):
		return p.parseFunc(false, nil)
	case p.check(token.LET), p.check(token.CONST):
		d := p.parseLetDecl(false)
		p.endStatement()
		return d
	case p.check(token.STRUCT):
		return p.parseStruct(false)
	case p.check(token.ENUM):
		return p.parseEnum(false)
	case p.check(token.ALIAS):
		return p.parseAlias()
	case p.check(token.IMPORT):
		return p.parseImport()
	case p.check(token.EXPORT):
		return p.parseExport()
	default:
		p.errorf(p.cur.Line, "unexpected token %v at top level", p.cur.Kind)
		p.advance()
		p.synchronize()
		return nil
	}
}

// recoverIfPanicking synchronizes once a production finishes if an error
// fired during it, so the next top-level parseDecl starts clean.
func (p *Parser) recoverIfPanicking() {
	if p.panicking {
		p.synchronize()
	}
}

func (p *Parser) parseToolFunc() *ast.FuncDecl {
	var meta *ast.ToolMeta
	if p.match(token.AT) {
		p.expect(token.TOOL, "'tool' after '@'")
		meta = p.parseToolDecorator()
		p.skipNewlines()
	}
	p.match(token.TOOL)
	return p.parseFunc(true, meta)
}

// parseToolDecorator parses `(description: "...", params: { name: "desc", ... })`.
// Unknown keys parse and are discarded into Extra.
func (p *Parser) parseToolDecorator() *ast.ToolMeta {
	meta := &ast.ToolMeta{ParamDescs: map[string]string{}, ParamTypes: map[string]string{}, Extra: map[string]string{}}
	if !p.match(token.LPAREN) {
		return meta
	}
	for !p.check(token.RPAREN) && !p.check(token.EOF) {
		if !p.check(token.IDENT) {
			p.errorf(p.cur.Line, "expected decorator key")
			break
		}
		key := p.cur.Lexeme
		p.advance()
		p.expect(token.COLON, "':' after decorator key")
		switch {
		case key == "params" && p.check(token.LBRACE):
			p.advance()
			p.skipNewlines()
			for !p.check(token.RBRACE) && !p.check(token.EOF) {
				if !p.check(token.IDENT) && !p.check(token.STRING) {
					break
				}
				pname := p.cur.Lexeme
				p.advance()
				p.expect(token.COLON, "':' in params map")
				if p.check(token.STRING) {
					meta.ParamDescs[pname] = p.cur.Lexeme
					p.advance()
				}
				if !p.match(token.COMMA) {
					p.skipNewlines()
					break
				}
				p.skipNewlines()
			}
			p.expect(token.RBRACE, "'}' closing params")
		case p.check(token.STRING):
			if key == "description" {
				meta.Description = p.cur.Lexeme
			} else {
				meta.Extra[key] = p.cur.Lexeme
			}
			p.advance()
		default:
			// unknown-shaped value: discard a single token
			p.advance()
		}
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN, "')' closing decorator")
	return meta
}

func (p *Parser) parseFunc(isTool bool, meta *ast.ToolMeta) *ast.FuncDecl {
	line := p.cur.Line
	p.expect(token.FN, "'fn'")
	name := p.cur.Lexeme
	p.expect(token.IDENT, "function name")
	p.expect(token.LPAREN, "'(' after function name")
	var params []ast.Param
	for !p.check(token.RPAREN) && !p.check(token.EOF) {
		pline := p.cur.Line
		pname := p.cur.Lexeme
		p.expect(token.IDENT, "parameter name")
		var ty *ast.TypeAnn
		if p.match(token.COLON) {
			ty = p.parseType()
		}
		params = append(params, ast.Param{Name: pname, Type: ty, Base: ast.NewBase(pline)})
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN, "')' after parameters")
	var ret *ast.TypeAnn
	if p.match(token.MINUS) {
		p.expect(token.GT, "'>' in '->' return type")
		ret = p.parseType()
	}
	p.skipNewlines()
	body := p.parseBlock()
	return &ast.FuncDecl{
		Base: ast.NewBase(line), Name: name, Params: params, RetType: ret,
		Body: body.Stmts, IsTool: isTool, ToolMeta: meta,
	}
}

func (p *Parser) parseType() *ast.TypeAnn {
	line := p.cur.Line
	if p.match(token.LBRACKET) {
		inner := p.parseType()
		p.expect(token.RBRACKET, "']' closing array type")
		return &ast.TypeAnn{Base: ast.NewBase(line), Name: "array", Args: []*ast.TypeAnn{inner}}
	}
	if p.check(token.IDENT) {
		name := p.cur.Lexeme
		p.advance()
		var args []*ast.TypeAnn
		if p.match(token.LT) {
			args = append(args, p.parseType())
			for p.match(token.COMMA) {
				args = append(args, p.parseType())
			}
			p.expect(token.GT, "'>' closing generic type")
		}
		return &ast.TypeAnn{Base: ast.NewBase(line), Name: name, Args: args}
	}
	p.errorf(line, "expected type annotation, got %v", p.cur.Kind)
	return &ast.TypeAnn{Base: ast.NewBase(line), Name: "any"}
}

func (p *Parser) parseLetDecl(exported bool) *ast.LetDecl {
	line := p.cur.Line
	isConst := p.check(token.CONST)
	p.advance() // 'let' or 'const'
	mut := false
	if !isConst && p.match(token.MUT) {
		mut = true
	}
	name := p.cur.Lexeme
	p.expect(token.IDENT, "identifier after let/const")
	var ty *ast.TypeAnn
	if p.match(token.COLON) {
		ty = p.parseType()
	}
	var val ast.Expr
	if p.match(token.ASSIGN) {
		val = p.parseExpr()
	}
	return &ast.LetDecl{Base: ast.NewBase(line), Name: name, Mut: mut, Const: isConst, Type: ty, Value: val, Exported: exported}
}

func (p *Parser) parseStruct(exported bool) *ast.StructDecl {
	line := p.cur.Line
	p.expect(token.STRUCT, "'struct'")
	name := p.cur.Lexeme
	p.expect(token.IDENT, "struct name")
	p.expect(token.LBRACE, "'{' opening struct body")
	p.skipNewlines()
	var fields []ast.StructField
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		fname := p.cur.Lexeme
		p.expect(token.IDENT, "field name")
		p.expect(token.COLON, "':' after field name")
		ty := p.parseType()
		fields = append(fields, ast.StructField{Name: fname, Type: ty})
		if !p.match(token.COMMA) {
			p.skipNewlines()
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing struct")
	return &ast.StructDecl{Base: ast.NewBase(line), Name: name, Fields: fields, Exported: exported}
}

func (p *Parser) parseEnum(exported bool) *ast.EnumDecl {
	line := p.cur.Line
	p.expect(token.ENUM, "'enum'")
	name := p.cur.Lexeme
	p.expect(token.IDENT, "enum name")
	p.expect(token.LBRACE, "'{' opening enum body")
	p.skipNewlines()
	var variants []ast.EnumVariantDecl
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		vname := p.cur.Lexeme
		vline := p.cur.Line
		if token.IsKeyword(vname) {
			p.errorf(vline, "enum variant name %q collides with a reserved keyword", vname)
		}
		p.expect(token.IDENT, "variant name")
		var payload *ast.TypeAnn
		if p.match(token.LPAREN) {
			payload = p.parseType()
			p.expect(token.RPAREN, "')' closing variant payload type")
		}
		variants = append(variants, ast.EnumVariantDecl{Name: vname, PayloadType: payload})
		if !p.match(token.COMMA) {
			p.skipNewlines()
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing enum")
	return &ast.EnumDecl{Base: ast.NewBase(line), Name: name, Variants: variants, Exported: exported}
}

func (p *Parser) parseAlias() *ast.AliasDecl {
	line := p.cur.Line
	p.expect(token.ALIAS, "'alias'")
	name := p.cur.Lexeme
	p.expect(token.IDENT, "alias name")
	p.expect(token.ASSIGN, "'=' in alias declaration")
	ty := p.parseType()
	return &ast.AliasDecl{Base: ast.NewBase(line), Name: name, Type: ty}
}

func (p *Parser) parseImport() *ast.ImportDecl {
	line := p.cur.Line
	p.expect(token.IMPORT, "'import'")
	if p.check(token.LBRACE) {
		p.advance()
		var names []string
		for !p.check(token.RBRACE) && !p.check(token.EOF) {
			names = append(names, p.cur.Lexeme)
			p.expect(token.IDENT, "imported name")
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RBRACE, "'}' closing import list")
		p.expect(token.FROM, "'from' after import list")
		path := p.cur.Lexeme
		p.expect(token.STRING, "import path string")
		return &ast.ImportDecl{Base: ast.NewBase(line), Path: path, Names: names}
	}
	path := p.cur.Lexeme
	p.expect(token.STRING, "import path string")
	return &ast.ImportDecl{Base: ast.NewBase(line), Path: path}
}

func (p *Parser) parseExport() ast.Decl {
	p.expect(token.EXPORT, "'export'")
	switch {
	case p.check(token.FN):
		fn := p.parseFunc(false, nil)
		fn.Exported = true
		return fn
	case p.check(token.LET), p.check(token.CONST):
		d := p.parseLetDecl(true)
		p.endStatement()
		return d
	case p.check(token.STRUCT):
		return p.parseStruct(true)
	case p.check(token.ENUM):
		return p.parseEnum(true)
	default:
		p.errorf(p.cur.Line, "expected a declaration after 'export'")
		return nil
	}
}

func (p *Parser) endStatement() {
	p.skipNewlines()
}

// ---- Statements ----

func (p *Parser) parseBlock() *ast.BlockStmt {
	line := p.cur.Line
	p.expect(token.LBRACE, "'{'")
	p.skipNewlines()
	var stmts []ast.Stmt
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		s := p.parseStmt()
		if s != nil {
			stmts = append(stmts, s)
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing block")
	return &ast.BlockStmt{Base: ast.NewBase(line), Stmts: stmts}
}

func (p *Parser) parseStmt() ast.Stmt {
	defer p.recoverIfPanicking()
	switch {
	case p.check(token.LET), p.check(token.CONST):
		d := p.parseLetDecl(false)
		p.endStatement()
		return d
	case p.check(token.IF):
		ifx := p.parseIf()
		p.skipNewlines()
		return ifx // *ast.IfExpr implements both Stmt and Expr
	case p.check(token.WHILE):
		return p.parseWhile()
	case p.check(token.FOR):
		return p.parseFor()
	case p.check(token.RETURN):
		line := p.cur.Line
		p.advance()
		var val ast.Expr
		if !p.check(token.NEWLINE) && !p.check(token.SEMI) && !p.check(token.RBRACE) && !p.check(token.EOF) {
			val = p.parseExpr()
		}
		p.endStatement()
		return &ast.ReturnStmt{Base: ast.NewBase(line), Value: val}
	case p.check(token.BREAK):
		line := p.cur.Line
		p.advance()
		p.endStatement()
		return &ast.BreakStmt{Base: ast.NewBase(line)}
	case p.check(token.CONTINUE):
		line := p.cur.Line
		p.advance()
		p.endStatement()
		return &ast.ContinueStmt{Base: ast.NewBase(line)}
	default:
		line := p.cur.Line
		x := p.parseExpr()
		p.endStatement()
		return &ast.ExprStmt{Base: ast.NewBase(line), X: x}
	}
}

func (p *Parser) parseWhile() *ast.WhileStmt {
	line := p.cur.Line
	p.expect(token.WHILE, "'while'")
	cond := p.parseExprNoStructLit()
	p.skipNewlines()
	body := p.parseBlock()
	return &ast.WhileStmt{Base: ast.NewBase(line), Cond: cond, Body: body}
}

func (p *Parser) parseFor() *ast.ForStmt {
	line := p.cur.Line
	p.expect(token.FOR, "'for'")
	item := p.cur.Lexeme
	p.expect(token.IDENT, "loop variable")
	idx := ""
	if p.match(token.COMMA) {
		idx = p.cur.Lexeme
		p.expect(token.IDENT, "loop index variable")
	}
	p.expect(token.IN, "'in'")
	iter := p.parseExprNoStructLit()
	p.skipNewlines()
	body := p.parseBlock()
	return &ast.ForStmt{Base: ast.NewBase(line), ItemName: item, IndexName: idx, Iter: iter, Body: body}
}

func (p *Parser) parseIf() *ast.IfExpr {
	line := p.cur.Line
	p.expect(token.IF, "'if'")
	cond := p.parseExprNoStructLit()
	p.skipNewlines()
	then := p.parseBlock()
	var els ast.Node
	p.skipNewlines()
	if p.match(token.ELSE) {
		if p.check(token.IF) {
			els = p.parseIf()
		} else {
			p.skipNewlines()
			els = p.parseBlock()
		}
	}
	return &ast.IfExpr{Base: ast.NewBase(line), Cond: cond, Then: then, Else: els}
}

// parseExprNoStructLit parses an expression with struct-literal `{` disabled
// at the top level, so `if cond { ... }` parses `cond` without swallowing
// the following block as a struct initializer.
func (p *Parser) parseExprNoStructLit() ast.Expr {
	save := p.noStructLit
	p.noStructLit = true
	x := p.parseExpr()
	p.noStructLit = save
	return x
}

func (p *Parser) parseExpr() ast.Expr {
	return p.parseAssignment()
}
