package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/internal/corpus"
	"github.com/chocopy-lang/chocopy/internal/testserdes"
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/parser"
)

func parseOne(t *testing.T, src string) *ast.Program {
	t.Helper()
	return testserdes.MustParse(t, "test.py", []byte(src))
}

// printOf renders the sole top-level statement for shape assertions.
func printOf(t *testing.T, src string) string {
	t.Helper()
	prog := parseOne(t, src)
	require.Len(t, prog.Stmts, 1)
	return ast.Print(prog)
}

func TestPrecedence(t *testing.T) {
	cases := map[string]string{
		"1 + 2 * 3\n":          "(1 + (2 * 3))\n",
		"1 * 2 + 3\n":          "((1 * 2) + 3)\n",
		"1 + 2 - 3\n":          "((1 + 2) - 3)\n",
		"not a and b\n":        "((not a) and b)\n",
		"a or b and c\n":       "(a or (b and c))\n",
		"-x * y\n":             "((-x) * y)\n",
		"a < b + 1\n":          "(a < (b + 1))\n",
		"a is b\n":             "(a is b)\n",
		"x // y % z\n":         "((x // y) % z)\n",
		"f(1)[2].g(3).h\n":     "f(1)[2].g(3).h\n",
		"(1 + 2) * 3\n":        "((1 + 2) * 3)\n",
		"[1, 2 + 3, f(x)]\n":   "[1, (2 + 3), f(x)]\n",
	}
	for src, want := range cases {
		assert.Equal(t, want, printOf(t, src), "source: %s", src)
	}
}

func TestTernaryRightAssociative(t *testing.T) {
	got := printOf(t, "1 if a else 2 if b else 3\n")
	assert.Equal(t, "(1 if a else (2 if b else 3))\n", got)
}

func TestDeclVsStatementAmbiguity(t *testing.T) {
	prog := parseOne(t, "x:int = 5\nx = 6\nx.y = 7\nf(x)\n")
	require.Len(t, prog.Defs, 1)
	require.Len(t, prog.Stmts, 3)
	_, ok := prog.Defs[0].(*ast.VarDecl)
	assert.True(t, ok)
	_, ok = prog.Stmts[0].(*ast.Assign)
	assert.True(t, ok)
	_, ok = prog.Stmts[1].(*ast.Assign)
	assert.True(t, ok)
	_, ok = prog.Stmts[2].(*ast.ExprStmt)
	assert.True(t, ok)
}

func TestMultiAssign(t *testing.T) {
	prog := parseOne(t, "a = b = c = 1\n")
	require.Len(t, prog.Stmts, 1)
	s, ok := prog.Stmts[0].(*ast.Assign)
	require.True(t, ok)
	assert.Len(t, s.Targets, 3)
}

func TestClassAndMethodShape(t *testing.T) {
	src := "class A(object):\n    x:int = 0\n    def f(self:\"A\") -> int:\n        return self.x\n"
	prog := parseOne(t, src)
	require.Len(t, prog.Defs, 1)
	cd, ok := prog.Defs[0].(*ast.ClassDecl)
	require.True(t, ok)
	assert.Equal(t, "A", cd.Name)
	assert.Equal(t, "object", cd.Super)
	require.Len(t, cd.Members, 2)
	fd, ok := cd.Members[1].(*ast.FuncDecl)
	require.True(t, ok)
	require.Len(t, fd.Params, 1)
	ct, ok := fd.Params[0].Type.(*ast.ClassType)
	require.True(t, ok)
	assert.Equal(t, "A", ct.Name)
}

func TestElifChain(t *testing.T) {
	src := "if a:\n    pass\nelif b:\n    pass\nelse:\n    pass\n"
	prog := parseOne(t, src)
	require.Len(t, prog.Stmts, 1)
	s, ok := prog.Stmts[0].(*ast.If)
	require.True(t, ok)
	require.Len(t, s.Else, 1)
	inner, ok := s.Else[0].(*ast.If)
	require.True(t, ok)
	assert.NotEmpty(t, inner.Else)
}

func TestNestedFunctionDecls(t *testing.T) {
	src := "def f(x:int) -> int:\n    y:int = 0\n    def g() -> int:\n        nonlocal y\n        return x\n    return g()\n"
	prog := parseOne(t, src)
	fd, ok := prog.Defs[0].(*ast.FuncDecl)
	require.True(t, ok)
	require.Len(t, fd.Decls, 2)
	_, ok = fd.Decls[0].(*ast.VarDecl)
	assert.True(t, ok)
	nested, ok := fd.Decls[1].(*ast.FuncDecl)
	require.True(t, ok)
	require.Len(t, nested.Decls, 1)
	_, ok = nested.Decls[0].(*ast.NonLocalDecl)
	assert.True(t, ok)
}

func TestErrorRecoveryReportsMultiple(t *testing.T) {
	diags := diag.NewBag("test.py")
	parser.Parse("test.py", []byte("x = + 1\ny = ) 2\nz = 3\n"), diags)
	require.True(t, diags.HasErrors())
	assert.GreaterOrEqual(t, len(diags.Items()), 2)
}

func TestRoundtripScenarios(t *testing.T) {
	for _, archive := range []string{"scenarios", "errors"} {
		for _, p := range corpus.Load(t, archive) {
			p := p
			t.Run(archive+"/"+p.Name, func(t *testing.T) {
				testserdes.ReparseRoundtrip(t, p.Name+".py", p.Source)
			})
		}
	}
}

func TestVarDeclLiterals(t *testing.T) {
	src := "a:int = -5\nb:bool = True\nc:str = \"hi\"\nd:[int] = None\ne:[str] = []\n"
	prog := parseOne(t, src)
	require.Len(t, prog.Defs, 5)
	il, ok := prog.Defs[0].(*ast.VarDecl).Literal.(*ast.IntLit)
	require.True(t, ok)
	assert.Equal(t, int64(-5), il.Value)
	le, ok := prog.Defs[4].(*ast.VarDecl).Literal.(*ast.ListExpr)
	require.True(t, ok)
	assert.Empty(t, le.Elems)
	lt, ok := prog.Defs[4].(*ast.VarDecl).Type.(*ast.ListType)
	require.True(t, ok)
	assert.Equal(t, "[str]", lt.String())
}
