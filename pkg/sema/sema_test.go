package sema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/internal/corpus"
	"github.com/chocopy-lang/chocopy/internal/testserdes"
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/sema"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

func analyze(t *testing.T, src string) (*ast.Program, *sema.Result, *diag.Bag) {
	t.Helper()
	prog := testserdes.MustParse(t, "test.py", []byte(src))
	diags := diag.NewBag("test.py")
	res := sema.Analyze("test.py", prog, diags)
	return prog, res, diags
}

func mustAnalyze(t *testing.T, src string) (*ast.Program, *sema.Result) {
	t.Helper()
	prog, res, diags := analyze(t, src)
	for _, d := range diags.Items() {
		t.Errorf("unexpected diagnostic: %v", d)
	}
	require.False(t, diags.HasErrors())
	return prog, res
}

func exprType(e ast.Expr) *types.Type {
	tt, _ := e.Type().(*types.Type)
	return tt
}

func TestScenariosAccepted(t *testing.T) {
	for _, p := range corpus.Load(t, "scenarios") {
		p := p
		t.Run(p.Name, func(t *testing.T) {
			prog := testserdes.MustParse(t, p.Name+".py", p.Source)
			diags := diag.NewBag(p.Name + ".py")
			sema.Analyze(p.Name+".py", prog, diags)
			for _, d := range diags.Items() {
				t.Errorf("unexpected diagnostic: %v", d)
			}
		})
	}
}

func TestErrorScenariosRejected(t *testing.T) {
	for _, p := range corpus.Load(t, "errors") {
		p := p
		t.Run(p.Name, func(t *testing.T) {
			prog := testserdes.MustParse(t, p.Name+".py", p.Source)
			diags := diag.NewBag(p.Name + ".py")
			sema.Analyze(p.Name+".py", prog, diags)
			require.True(t, diags.HasErrors(), "program must be rejected")
			for _, want := range p.Errors {
				found := false
				for _, d := range diags.Items() {
					if strings.Contains(d.Message, want) {
						found = true
						break
					}
				}
				assert.True(t, found, "no diagnostic contains %q; got %v", want, diags.Items())
			}
		})
	}
}

func TestExpressionAnnotations(t *testing.T) {
	src := "s:str = \"ab\"\nl:[int] = None\nl = [1, 2]\nprint(s + \"c\")\nprint(l[0] + len(s))\n"
	prog, _ := mustAnalyze(t, src)

	// print(s + "c"): the concat is typed str.
	call := prog.Stmts[1].(*ast.ExprStmt).X.(*ast.Call)
	concat := call.Args[0].(*ast.Binary)
	assert.True(t, types.Equal(types.Str, exprType(concat)))

	// l[0] + len(s): both sides int, sum int.
	call = prog.Stmts[2].(*ast.ExprStmt).X.(*ast.Call)
	sum := call.Args[0].(*ast.Binary)
	assert.True(t, types.Equal(types.Int, exprType(sum)))
	assert.True(t, types.Equal(types.Int, exprType(sum.X)))
	assert.True(t, types.Equal(types.Int, exprType(sum.Y)))
}

func TestListDisplayJoins(t *testing.T) {
	src := "class A(object):\n    pass\nclass B(A):\n    pass\na:A = None\nb:B = None\nl:[A] = None\nl = [a, b, None]\n"
	prog, _ := mustAnalyze(t, src)
	asn := prog.Stmts[0].(*ast.Assign)
	lt := exprType(asn.Value)
	require.NotNil(t, lt)
	require.Equal(t, types.KList, lt.Kind)
	assert.True(t, types.Equal(types.Class("A"), lt.Elem))
}

func TestTernaryJoinsToObject(t *testing.T) {
	src := "b:bool = True\no:object = None\no = 1 if b else \"x\"\n"
	prog, _ := mustAnalyze(t, src)
	asn := prog.Stmts[0].(*ast.Assign)
	assert.True(t, types.Equal(types.Object, exprType(asn.Value)))
}

func TestMethodSelfValidation(t *testing.T) {
	_, _, diags := analyze(t, "class A(object):\n    def f(x:int) -> int:\n        return x\n")
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Items()[0].Message, "self")
}

func TestIsRequiresReferences(t *testing.T) {
	_, _, diags := analyze(t, "x:int = 1\nb:bool = False\nb = x is x\n")
	require.True(t, diags.HasErrors())
}

func TestCallArityErrorsAccumulate(t *testing.T) {
	// One bad call reports the arity problem and each bad argument, not
	// just the first.
	src := "def f(a:int, b:str):\n    pass\nf(\"x\", 1, 2)\n"
	_, _, diags := analyze(t, src)
	require.True(t, diags.HasErrors())
	assert.GreaterOrEqual(t, len(diags.Items()), 3)
}

func TestReturnOutsideFunction(t *testing.T) {
	_, _, diags := analyze(t, "return 1\n")
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Items()[0].Message, "outside")
}

func TestForLoopTyping(t *testing.T) {
	_, res := mustAnalyze(t, "c:str = \"\"\nfor c in \"abc\":\n    print(c)\n")
	sym, _ := res.Global.Lookup("c")
	require.NotNil(t, sym)
	assert.True(t, types.Equal(types.Str, sym.Type))

	_, _, diags := analyze(t, "i:int = 0\nfor i in 5:\n    pass\n")
	require.True(t, diags.HasErrors())
	assert.Contains(t, diags.Items()[0].Message, "iterate")
}

func TestNonlocalBinding(t *testing.T) {
	src := "def f() -> int:\n    x:int = 1\n    def g():\n        nonlocal x\n        x = 2\n    g()\n    return x\n"
	mustAnalyze(t, src)

	_, _, diags := analyze(t, "x:int = 0\ndef f():\n    nonlocal x\n    x = 1\n")
	require.True(t, diags.HasErrors(), "nonlocal must not bind the global scope")
}

func TestNestedFunctionSymbols(t *testing.T) {
	src := "def outer() -> int:\n    def inner() -> int:\n        return 1\n    return inner()\n"
	prog, res := mustAnalyze(t, src)
	outer := prog.Defs[0].(*ast.FuncDecl)
	scope := res.FuncScopes[outer]
	require.NotNil(t, scope)
	sym, _ := scope.LookupLocal("inner")
	require.NotNil(t, sym)
	assert.Equal(t, "$outer$inner", sym.FuncSym)
}

func TestErrorRecoveryContinues(t *testing.T) {
	// Analysis substitutes object after a local error so later errors
	// still surface.
	src := "x:int = 0\ny:str = \"\"\nx = undefined1\ny = undefined2\n"
	_, _, diags := analyze(t, src)
	assert.GreaterOrEqual(t, len(diags.Items()), 2)
}
