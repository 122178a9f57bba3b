package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agimlang/agim/internal/lexer"
	"github.com/agimlang/agim/internal/token"
)

type lexTestCase struct {
	name   string
	src    string
	expect []token.Token
}

func (tc lexTestCase) run(t *testing.T) {
	l := lexer.New(tc.src)
	for i, want := range tc.expect {
		got := l.Next()
		if !assert.Equalf(t, want.Kind, got.Kind, "token %d kind", i) {
			return
		}
		if want.Lexeme != "" {
			assert.Equalf(t, want.Lexeme, got.Lexeme, "token %d lexeme", i)
		}
		if want.Line != 0 {
			assert.Equalf(t, want.Line, got.Line, "token %d line", i)
		}
	}
}

func TestLexer(t *testing.T) {
	cases := []lexTestCase{
		{
			name: "single int",
			src:  "42",
			expect: []token.Token{
				{Kind: token.INT, Lexeme: "42", Line: 1},
				{Kind: token.EOF},
			},
		},
		{
			name: "let with arithmetic",
			src:  "let x = 2 + 3 * 4",
			expect: []token.Token{
				{Kind: token.LET}, {Kind: token.IDENT, Lexeme: "x"}, {Kind: token.ASSIGN},
				{Kind: token.INT, Lexeme: "2"}, {Kind: token.PLUS}, {Kind: token.INT, Lexeme: "3"},
				{Kind: token.STAR}, {Kind: token.INT, Lexeme: "4"}, {Kind: token.EOF},
			},
		},
		{
			name: "underscored numeric literal",
			src:  "1_000_000",
			expect: []token.Token{
				{Kind: token.INT, Lexeme: "1000000"},
				{Kind: token.EOF},
			},
		},
		{
			name: "float with exponent",
			src:  "1.5e10",
			expect: []token.Token{
				{Kind: token.FLOAT, Lexeme: "1.5e10"},
				{Kind: token.EOF},
			},
		},
		{
			name: "string with escapes",
			src:  `"a\nb\"c"`,
			expect: []token.Token{
				{Kind: token.STRING, Lexeme: "a\nb\"c"},
				{Kind: token.EOF},
			},
		},
		{
			name: "line comment skipped",
			src:  "1 // comment\n2",
			expect: []token.Token{
				{Kind: token.INT, Lexeme: "1"},
				{Kind: token.NEWLINE},
				{Kind: token.INT, Lexeme: "2", Line: 2},
				{Kind: token.EOF},
			},
		},
		{
			name: "block comment skipped",
			src:  "1 /* not\nnested */ 2",
			expect: []token.Token{
				{Kind: token.INT, Lexeme: "1"},
				{Kind: token.INT, Lexeme: "2"},
				{Kind: token.EOF},
			},
		},
		{
			name: "enum variant double colon",
			src:  "Color::Red",
			expect: []token.Token{
				{Kind: token.IDENT, Lexeme: "Color"}, {Kind: token.COLONCOLON}, {Kind: token.IDENT, Lexeme: "Red"},
				{Kind: token.EOF},
			},
		},
		{
			name: "unterminated string",
			src:  `"abc`,
			expect: []token.Token{
				{Kind: token.ERROR},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestLexerPeekDoesNotAdvance(t *testing.T) {
	l := lexer.New("1 2")
	p1 := l.Peek()
	p2 := l.Peek()
	assert.Equal(t, p1, p2)
	n := l.Next()
	assert.Equal(t, p1, n)
	assert.Equal(t, token.INT, l.Next().Kind)
}
