package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/internal/random"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/token"
)

func lexAll(t *testing.T, src string) ([]token.Token, *diag.Bag) {
	t.Helper()
	diags := diag.NewBag("test.py")
	l := New("test.py", []byte(src), diags)
	var toks []token.Token
	for i := 0; i < 10000; i++ {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, diags
		}
	}
	t.Fatal("lexer did not terminate")
	return nil, nil
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, tok := range toks {
		out[i] = tok.Kind
	}
	return out
}

func TestSimpleStatement(t *testing.T) {
	toks, diags := lexAll(t, "x:int = 42\n")
	require.False(t, diags.HasErrors())
	require.Equal(t, []token.Kind{
		token.Ident, token.Colon, token.Ident, token.Assign, token.IntLit,
		token.NEWLINE, token.EOF,
	}, kinds(toks))
	assert.Equal(t, int64(42), toks[4].IntVal)
}

func TestOperators(t *testing.T) {
	toks, diags := lexAll(t, "a // b -> c <= d != e == f >= g\n")
	require.False(t, diags.HasErrors())
	want := []token.Kind{
		token.Ident, token.DSlash, token.Ident, token.Arrow, token.Ident,
		token.LessEq, token.Ident, token.NotEq, token.Ident, token.Eq,
		token.Ident, token.GreaterEq, token.Ident, token.NEWLINE, token.EOF,
	}
	require.Equal(t, want, kinds(toks))
}

func TestIndentDedent(t *testing.T) {
	src := "if True:\n    x = 1\n    if False:\n        y = 2\nz = 3\n"
	toks, diags := lexAll(t, src)
	require.False(t, diags.HasErrors())

	var indents, dedents int
	for _, tok := range toks {
		switch tok.Kind {
		case token.INDENT:
			indents++
		case token.DEDENT:
			dedents++
		}
	}
	assert.Equal(t, 2, indents)
	assert.Equal(t, 2, dedents)
}

func TestDedentFlushedAtEOF(t *testing.T) {
	toks, diags := lexAll(t, "while True:\n    pass\n")
	require.False(t, diags.HasErrors())
	ks := kinds(toks)
	require.GreaterOrEqual(t, len(ks), 2)
	assert.Equal(t, token.EOF, ks[len(ks)-1])
	assert.Equal(t, token.DEDENT, ks[len(ks)-2])
}

func TestTabsExpandToEight(t *testing.T) {
	// A tab after two spaces jumps to column 8, the next multiple of
	// the tab width, so the two bodies sit at the same level and the
	// second line must not INDENT again.
	src := "if True:\n\tx = 1\n  \ty = 2\n"
	toks, diags := lexAll(t, src)
	require.False(t, diags.HasErrors())
	indents := 0
	for _, tok := range toks {
		if tok.Kind == token.INDENT {
			indents++
		}
	}
	assert.Equal(t, 1, indents)
}

func TestBlankLinesAndComments(t *testing.T) {
	src := "x = 1\n\n# a comment\n   # indented comment\ny = 2\n"
	toks, diags := lexAll(t, src)
	require.False(t, diags.HasErrors())
	for _, tok := range toks {
		assert.NotEqual(t, token.INDENT, tok.Kind, "comment-only lines must not change indentation")
		assert.NotEqual(t, token.DEDENT, tok.Kind)
	}
}

func TestStringEscapes(t *testing.T) {
	toks, diags := lexAll(t, `s = "a\nb\t\\\"\0"`+"\n")
	require.False(t, diags.HasErrors())
	require.Equal(t, token.StrLit, toks[2].Kind)
	assert.Equal(t, "a\nb\t\\\"\x00", toks[2].StrVal)
}

func TestUnterminatedString(t *testing.T) {
	_, diags := lexAll(t, "s = \"abc\n")
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Items()[0].Message, "unterminated string")
}

func TestNonASCIIString(t *testing.T) {
	_, diags := lexAll(t, "s = \"caf\xc3\xa9\"\n")
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Items()[0].Message, "non-ASCII")
}

func TestInvalidCharacterRecovers(t *testing.T) {
	toks, diags := lexAll(t, "x = 1 ? 2\n")
	require.True(t, diags.HasErrors())
	// The stream still terminates in EOF so the parser can finish its
	// recovery pass.
	assert.Equal(t, token.EOF, toks[len(toks)-1].Kind)
}

func TestEOFIsTerminal(t *testing.T) {
	diags := diag.NewBag("test.py")
	l := New("test.py", []byte("x = 1\n"), diags)
	for l.Next().Kind != token.EOF {
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, token.EOF, l.Next().Kind)
	}
}

func TestSpans(t *testing.T) {
	toks, _ := lexAll(t, "x = 1\ny = 2\n")
	// y sits at line 2, column 1.
	var yTok token.Token
	for _, tok := range toks {
		if tok.Kind == token.Ident && tok.Lexeme == "y" {
			yTok = tok
		}
	}
	assert.Equal(t, 2, yTok.Span.StartLine)
	assert.Equal(t, 1, yTok.Span.StartCol)
}

func TestRandomIdentifiers(t *testing.T) {
	for i := 0; i < 50; i++ {
		name := random.Ident(random.Int(1, 16))
		toks, diags := lexAll(t, name+" = 0\n")
		require.False(t, diags.HasErrors())
		assert.Equal(t, token.LookupIdent(name), toks[0].Kind)
		assert.Equal(t, name, toks[0].Lexeme)
	}
}

func TestRandomStringLiterals(t *testing.T) {
	for i := 0; i < 50; i++ {
		payload := random.String(random.Int(0, 40))
		toks, diags := lexAll(t, "s = \""+payload+"\"\n")
		require.False(t, diags.HasErrors())
		require.Equal(t, token.StrLit, toks[2].Kind)
		assert.Equal(t, payload, toks[2].StrVal)
	}
}
