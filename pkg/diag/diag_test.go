package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/pkg/token"
)

func span(line, col int) token.Span {
	return token.Span{StartLine: line, StartCol: col, EndLine: line, EndCol: col}
}

func TestDiagnosticFormat(t *testing.T) {
	d := Diagnostic{Path: "prog.py", Span: span(3, 7), Severity: Semantic, Message: "bad thing"}
	assert.Equal(t, "prog.py:3:7: error: bad thing", d.Error())

	d.Severity = Lexical
	assert.Contains(t, d.Error(), "lexical error")
	d.Severity = Syntactic
	assert.Contains(t, d.Error(), "syntax error")
	d.Severity = ICE
	assert.Contains(t, d.Error(), "internal compiler error")
}

func TestBagAccumulatesAndSorts(t *testing.T) {
	b := NewBag("prog.py")
	require.False(t, b.HasErrors())
	b.Add(Semantic, span(5, 1), "second")
	b.Add(Lexical, span(1, 4), "first")
	b.Add(Semantic, span(5, 9), "third")
	require.True(t, b.HasErrors())

	items := b.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "first", items[0].Message)
	assert.Equal(t, "second", items[1].Message)
	assert.Equal(t, "third", items[2].Message)
}

func TestPrintPlainWhenNotTerminal(t *testing.T) {
	b := NewBag("prog.py")
	b.Add(Semantic, span(2, 3), "oops %d", 42)
	var out bytes.Buffer
	b.Print(&out)
	assert.Equal(t, "prog.py:2:3: error: oops 42\n", out.String())
	assert.NotContains(t, out.String(), "\x1b[", "no color codes when writing to a plain buffer")
}
