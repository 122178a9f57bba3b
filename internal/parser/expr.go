package parser

import (
	"unicode"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/token"
)

// Precedence (lowest to highest): assignment, range, ternary, or, and,
// equality, comparison, additive, multiplicative, unary, call/member/index.

func (p *Parser) parseAssignment() ast.Expr {
	x := p.parseRange()
	switch p.cur.Kind {
	case token.ASSIGN, token.PLUS_ASSIGN, token.MINUS_ASSIGN, token.STAR_ASSIGN, token.SLASH_ASSIGN:
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		val := p.parseAssignment()
		if !isAssignable(x) {
			p.errorf(line, "invalid assignment target")
		}
		return &ast.AssignExpr{Base: ast.NewBase(line), Op: op, Target: x, Value: val}
	}
	return x
}

func isAssignable(x ast.Expr) bool {
	switch x.(type) {
	case *ast.Ident, *ast.IndexExpr, *ast.MemberExpr:
		return true
	}
	return false
}

func (p *Parser) parseRange() ast.Expr {
	x := p.parseTernary()
	if p.check(token.DOTDOT) || p.check(token.DOTDOTEQ) {
		inclusive := p.check(token.DOTDOTEQ)
		line := p.cur.Line
		p.advance()
		hi := p.parseTernary()
		return &ast.RangeExpr{Base: ast.NewBase(line), Lo: x, Hi: hi, Inclusive: inclusive}
	}
	return x
}

func (p *Parser) parseTernary() ast.Expr {
	x := p.parseOr()
	if p.check(token.QUESTION) {
		line := p.cur.Line
		p.advance()
		then := p.parseExpr()
		p.expect(token.COLON, "':' in ternary expression")
		els := p.parseExpr()
		return &ast.TernaryExpr{Base: ast.NewBase(line), Cond: x, Then: then, Else: els}
	}
	return x
}

func (p *Parser) parseOr() ast.Expr {
	x := p.parseAnd()
	for p.check(token.OR) {
		line := p.cur.Line
		p.advance()
		y := p.parseAnd()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: "or", X: x, Y: y}
	}
	return x
}

func (p *Parser) parseAnd() ast.Expr {
	x := p.parseEquality()
	for p.check(token.AND) {
		line := p.cur.Line
		p.advance()
		y := p.parseEquality()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: "and", X: x, Y: y}
	}
	return x
}

func (p *Parser) parseEquality() ast.Expr {
	x := p.parseComparison()
	for p.check(token.EQ) || p.check(token.NE) {
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		y := p.parseComparison()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: op, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseComparison() ast.Expr {
	x := p.parseAdditive()
	for p.check(token.LT) || p.check(token.LE) || p.check(token.GT) || p.check(token.GE) {
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		y := p.parseAdditive()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: op, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseAdditive() ast.Expr {
	x := p.parseMultiplicative()
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		y := p.parseMultiplicative()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: op, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseMultiplicative() ast.Expr {
	x := p.parseUnary()
	for p.check(token.STAR) || p.check(token.SLASH) || p.check(token.PERCENT) {
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		y := p.parseUnary()
		x = &ast.BinaryExpr{Base: ast.NewBase(line), Op: op, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseUnary() ast.Expr {
	if p.check(token.MINUS) || p.check(token.NOT) {
		op := p.cur.Kind.String()
		line := p.cur.Line
		p.advance()
		x := p.parseUnary()
		return &ast.UnaryExpr{Base: ast.NewBase(line), Op: op, X: x}
	}
	return p.parseCallIndexMember()
}

func (p *Parser) parseCallIndexMember() ast.Expr {
	if !p.enter() {
		return &ast.NilLit{Base: ast.NewBase(p.cur.Line)}
	}
	defer p.leave()

	x := p.parsePrimary()
	for {
		switch {
		case p.check(token.LPAREN):
			line := p.cur.Line
			p.advance()
			var args []ast.CallArg
			for !p.check(token.RPAREN) && !p.check(token.EOF) {
				spread := p.match(token.ELLIPSIS)
				args = append(args, ast.CallArg{Value: p.parseExpr(), Spread: spread})
				if !p.match(token.COMMA) {
					break
				}
			}
			p.expect(token.RPAREN, "')' closing call arguments")
			x = &ast.CallExpr{Base: ast.NewBase(line), Callee: x, Args: args}
		case p.check(token.DOT):
			line := p.cur.Line
			p.advance()
			name := p.cur.Lexeme
			p.expect(token.IDENT, "member name after '.'")
			x = &ast.MemberExpr{Base: ast.NewBase(line), X: x, Name: name}
		case p.check(token.LBRACKET):
			line := p.cur.Line
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBRACKET, "']' closing index")
			x = &ast.IndexExpr{Base: ast.NewBase(line), X: x, Index: idx}
		default:
			return x
		}
	}
}

func isUpperFirst(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func (p *Parser) parsePrimary() ast.Expr {
	line := p.cur.Line
	switch p.cur.Kind {
	case token.INT:
		v := parseIntLiteral(p.cur.Lexeme)
		p.advance()
		return &ast.IntLit{Base: ast.NewBase(line), Value: v}
	case token.FLOAT:
		v := parseFloatLiteral(p.cur.Lexeme)
		p.advance()
		return &ast.FloatLit{Base: ast.NewBase(line), Value: v}
	case token.STRING:
		v := p.cur.Lexeme
		p.advance()
		return &ast.StringLit{Base: ast.NewBase(line), Value: v}
	case token.TRUE:
		p.advance()
		return &ast.BoolLit{Base: ast.NewBase(line), Value: true}
	case token.FALSE:
		p.advance()
		return &ast.BoolLit{Base: ast.NewBase(line), Value: false}
	case token.NIL:
		p.advance()
		return &ast.NilLit{Base: ast.NewBase(line)}
	case token.NONE:
		p.advance()
		return &ast.NoneExpr{Base: ast.NewBase(line)}
	case token.SOME:
		p.advance()
		p.expect(token.LPAREN, "'(' after 'some'")
		x := p.parseExpr()
		p.expect(token.RPAREN, "')' closing 'some(...)'")
		return &ast.SomeExpr{Base: ast.NewBase(line), X: x}
	case token.OK:
		p.advance()
		p.expect(token.LPAREN, "'(' after 'ok'")
		x := p.parseExpr()
		p.expect(token.RPAREN, "')' closing 'ok(...)'")
		return &ast.OkExpr{Base: ast.NewBase(line), X: x}
	case token.ERR:
		p.advance()
		p.expect(token.LPAREN, "'(' after 'err'")
		x := p.parseExpr()
		p.expect(token.RPAREN, "')' closing 'err(...)'")
		return &ast.ErrExpr{Base: ast.NewBase(line), X: x}
	case token.TRY:
		p.advance()
		x := p.parseUnary()
		return &ast.TryExpr{Base: ast.NewBase(line), X: x}
	case token.MATCH:
		return p.parseMatch()
	case token.IF:
		return p.parseIf()
	case token.ELLIPSIS:
		p.advance()
		x := p.parseUnary()
		return &ast.SpreadExpr{Base: ast.NewBase(line), X: x}
	case token.LPAREN:
		p.advance()
		x := p.parseExpr()
		p.expect(token.RPAREN, "')' closing grouped expression")
		return x
	case token.LBRACKET:
		return p.parseArrayLit()
	case token.LBRACE:
		return p.parseMapLit()
	case token.IDENT:
		name := p.cur.Lexeme
		p.advance()
		if p.check(token.COLONCOLON) {
			return p.parseEnumConstruct(line, name)
		}
		if !p.noStructLit && isUpperFirst(name) && p.check(token.LBRACE) {
			return p.parseStructInit(line, name)
		}
		return &ast.Ident{Base: ast.NewBase(line), Name: name}
	default:
		p.errorf(line, "unexpected token %v in expression", p.cur.Kind)
		p.advance()
		return &ast.NilLit{Base: ast.NewBase(line)}
	}
}

func (p *Parser) parseEnumConstruct(line int, typeName string) ast.Expr {
	p.expect(token.COLONCOLON, "'::'")
	variant := p.cur.Lexeme
	p.expect(token.IDENT, "variant name after '::'")
	var payload ast.Expr
	if p.match(token.LPAREN) {
		if !p.check(token.RPAREN) {
			payload = p.parseExpr()
		}
		p.expect(token.RPAREN, "')' closing enum payload")
	}
	return &ast.EnumConstructExpr{Base: ast.NewBase(line), Type: typeName, Variant: variant, Payload: payload}
}

func (p *Parser) parseStructInit(line int, typeName string) ast.Expr {
	p.expect(token.LBRACE, "'{' opening struct initializer")
	p.skipNewlines()
	var fields []ast.StructInitField
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		fname := p.cur.Lexeme
		p.expect(token.IDENT, "field name in struct initializer")
		p.expect(token.COLON, "':' after field name")
		val := p.parseExpr()
		fields = append(fields, ast.StructInitField{Name: fname, Value: val})
		if !p.match(token.COMMA) {
			p.skipNewlines()
			break
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing struct initializer")
	return &ast.StructInitExpr{Base: ast.NewBase(line), Type: typeName, Fields: fields}
}

func (p *Parser) parseArrayLit() ast.Expr {
	line := p.cur.Line
	p.expect(token.LBRACKET, "'['")
	p.skipNewlines()
	var elems []ast.Expr
	for !p.check(token.RBRACKET) && !p.check(token.EOF) {
		elems = append(elems, p.parseExpr())
		if !p.match(token.COMMA) {
			p.skipNewlines()
			break
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACKET, "']' closing array literal")
	return &ast.ArrayLit{Base: ast.NewBase(line), Elems: elems}
}

// parseMapLit parses `{ key: value, ... }`. A bare identifier key is taken
// as a string literal of that name.
func (p *Parser) parseMapLit() ast.Expr {
	line := p.cur.Line
	p.expect(token.LBRACE, "'{'")
	p.skipNewlines()
	var entries []ast.MapEntry
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		var key ast.Expr
		if p.check(token.IDENT) {
			key = &ast.StringLit{Base: ast.NewBase(p.cur.Line), Value: p.cur.Lexeme}
			p.advance()
		} else if p.check(token.STRING) {
			key = &ast.StringLit{Base: ast.NewBase(p.cur.Line), Value: p.cur.Lexeme}
			p.advance()
		} else {
			key = p.parseExpr()
		}
		p.expect(token.COLON, "':' in map literal")
		val := p.parseExpr()
		entries = append(entries, ast.MapEntry{Key: key, Value: val})
		if !p.match(token.COMMA) {
			p.skipNewlines()
			break
		}
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing map literal")
	return &ast.MapLit{Base: ast.NewBase(line), Entries: entries}
}

func (p *Parser) parseMatch() ast.Expr {
	line := p.cur.Line
	p.expect(token.MATCH, "'match'")
	subject := p.parseExprNoStructLit()
	p.expect(token.LBRACE, "'{' opening match body")
	p.skipNewlines()
	var arms []ast.MatchArm
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		arm := p.parseMatchArm()
		arms = append(arms, arm)
		p.skipNewlines()
	}
	p.expect(token.RBRACE, "'}' closing match body")
	p.checkArmKindsConsistent(line, arms)
	return &ast.MatchExpr{Base: ast.NewBase(line), Subject: subject, Arms: arms}
}

func (p *Parser) checkArmKindsConsistent(line int, arms []ast.MatchArm) {
	if len(arms) == 0 {
		return
	}
	isResultKind := func(k ast.MatchArmKind) bool { return k == ast.ArmOk || k == ast.ArmErr }
	isOptionKind := func(k ast.MatchArmKind) bool { return k == ast.ArmSome || k == ast.ArmNone }
	var sawResult, sawOption, sawEnum bool
	var okCount, errCount, someCount, noneCount int
	for _, a := range arms {
		switch {
		case isResultKind(a.Kind):
			sawResult = true
			if a.Kind == ast.ArmOk {
				okCount++
			} else {
				errCount++
			}
		case isOptionKind(a.Kind):
			sawOption = true
			if a.Kind == ast.ArmSome {
				someCount++
			} else {
				noneCount++
			}
		default:
			sawEnum = true
		}
	}
	kinds := 0
	if sawResult {
		kinds++
	}
	if sawOption {
		kinds++
	}
	if sawEnum {
		kinds++
	}
	if kinds > 1 {
		p.errorf(line, "match arms mix result, option, and enum-variant patterns")
		return
	}
	if sawResult && (okCount != 1 || errCount != 1) {
		p.errorf(line, "result match requires exactly one ok and one err arm")
	}
	if sawOption && (someCount != 1 || noneCount != 1) {
		p.errorf(line, "option match requires exactly one some and one none arm")
	}
}

func (p *Parser) parseMatchArm() ast.MatchArm {
	line := p.cur.Line
	var arm ast.MatchArm
	arm.Line = line
	switch {
	case p.check(token.OK):
		p.advance()
		p.expect(token.LPAREN, "'(' in ok arm pattern")
		arm.Bind = p.cur.Lexeme
		p.expect(token.IDENT, "bound name in ok(...) pattern")
		p.expect(token.RPAREN, "')' closing ok(...) pattern")
		arm.Kind = ast.ArmOk
	case p.check(token.ERR):
		p.advance()
		p.expect(token.LPAREN, "'(' in err arm pattern")
		arm.Bind = p.cur.Lexeme
		p.expect(token.IDENT, "bound name in err(...) pattern")
		p.expect(token.RPAREN, "')' closing err(...) pattern")
		arm.Kind = ast.ArmErr
	case p.check(token.SOME):
		p.advance()
		p.expect(token.LPAREN, "'(' in some arm pattern")
		arm.Bind = p.cur.Lexeme
		p.expect(token.IDENT, "bound name in some(...) pattern")
		p.expect(token.RPAREN, "')' closing some(...) pattern")
		arm.Kind = ast.ArmSome
	case p.check(token.NONE):
		p.advance()
		arm.Kind = ast.ArmNone
	case p.check(token.IDENT):
		arm.Kind = ast.ArmEnumVariant
		arm.Variant = p.cur.Lexeme
		p.advance()
		if p.match(token.LPAREN) {
			arm.Bind = p.cur.Lexeme
			p.expect(token.IDENT, "bound name in variant pattern")
			p.expect(token.RPAREN, "')' closing variant pattern")
		}
	default:
		p.errorf(line, "unexpected match arm pattern %v", p.cur.Kind)
		p.advance()
	}
	// '=>' lexes as a separate ASSIGN token followed by a GT token.
	p.expect(token.ASSIGN, "'=' in '=>'")
	p.expect(token.GT, "'>' in '=>'")
	body := p.parseArmBody()
	arm.Body = body
	return arm
}

func (p *Parser) parseArmBody() []ast.Stmt {
	if p.check(token.LBRACE) {
		return p.parseBlock().Stmts
	}
	line := p.cur.Line
	x := p.parseExpr()
	return []ast.Stmt{&ast.ExprStmt{Base: ast.NewBase(line), X: x}}
}
