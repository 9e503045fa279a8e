// Package sema implements ChocoPy's two-pass semantic analyzer: Pass 1
// builds the class table and scope chain from declarations, Pass 2 walks
// statements and expressions annotating every ast.Expr with its type and
// reporting type errors (§4.C, §4.D).
package sema

import (
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/token"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

// Result is the product of analysis: the whole-program class table plus
// the global scope, and the per-function scopes Pass 2 built while
// walking nested declarations, keyed by the *ast.FuncDecl node so the
// code generator can look a function's scope back up from the AST.
type Result struct {
	Classes     *types.ClassTable
	Global      *types.Scope
	FuncScopes  map[*ast.FuncDecl]*types.Scope
	MethodOwner map[*ast.FuncDecl]*types.ClassInfo
}

// Analyzer carries the accumulating state of one compilation's analysis.
type Analyzer struct {
	path   string
	diags  *diag.Bag
	result *Result
}

// Analyze runs both passes over prog and returns the completed Result.
// Callers should check diags.HasErrors() before trusting Result or
// proceeding to code generation (§4.C: "a program with a semantic error
// is never handed to the code generator").
func Analyze(path string, prog *ast.Program, diags *diag.Bag) *Result {
	a := &Analyzer{
		path:  path,
		diags: diags,
		result: &Result{
			Classes:     types.NewClassTable(),
			Global:      types.NewGlobalScope(),
			FuncScopes:  map[*ast.FuncDecl]*types.Scope{},
			MethodOwner: map[*ast.FuncDecl]*types.ClassInfo{},
		},
	}
	a.declareBuiltinFuncs()
	a.pass1Program(prog)
	if diags.HasErrors() {
		return a.result
	}
	a.pass2Program(prog)
	return a.result
}

// declareBuiltinFuncs installs print/input/len, which ChocoPy type-checks
// structurally (print/len are effectively overloaded across object/int/
// bool/str/list) rather than via a single fixed Signature, per §3's
// builtin function table. Pass 2 special-cases calls to these three
// names instead of consulting Func.
func (a *Analyzer) declareBuiltinFuncs() {
	for _, name := range []string{"print", "input", "len"} {
		_ = a.result.Global.Declare(&types.Symbol{Name: name, Kind: types.SymFunc})
	}
}

func (a *Analyzer) errf(sp token.Span, format string, args ...any) {
	a.diags.Add(diag.Semantic, sp, format, args...)
}

// pass1Program declares every top-level class, then every top-level
// variable and function, in source order (so a class's parent must
// already be declared, matching §3's invariant).
func (a *Analyzer) pass1Program(prog *ast.Program) {
	for _, d := range prog.Defs {
		if cd, ok := d.(*ast.ClassDecl); ok {
			a.declareClassShell(cd)
		}
	}
	for _, d := range prog.Defs {
		switch d := d.(type) {
		case *ast.ClassDecl:
			a.fillClassBody(d)
		case *ast.VarDecl:
			a.declareGlobalVar(d)
		case *ast.FuncDecl:
			a.declareTopFunc(d)
		}
	}
}

func (a *Analyzer) declareClassShell(cd *ast.ClassDecl) {
	super := cd.Super
	if super == "" {
		super = types.ObjectClass
	}
	if _, err := a.result.Classes.Declare(cd.Name, super); err != nil {
		a.errf(cd.Pos(), "%s", err)
	}
}

func (a *Analyzer) fillClassBody(cd *ast.ClassDecl) {
	ci := a.result.Classes.Lookup(cd.Name)
	if ci == nil {
		return // Declare already reported the error
	}
	// Every shell was declared before any body was filled, so take the
	// parent's now-complete attribute layout and dispatch table here.
	if p := a.result.Classes.Lookup(ci.Parent); p != nil {
		ci.Attrs = append([]*types.Attribute(nil), p.Attrs...)
		for k, v := range p.AttrIndex {
			ci.AttrIndex[k] = v
		}
		ci.Size = p.Size
		ci.Methods = append([]*types.Method(nil), p.Methods...)
		for k, v := range p.MethodIdx {
			ci.MethodIdx[k] = v
		}
	}
	for _, m := range cd.Members {
		switch m := m.(type) {
		case *ast.VarDecl:
			t, ok := a.resolveVarDecl(m)
			if !ok {
				continue
			}
			if err := a.result.Classes.AddAttribute(ci, m.Name, t, m.Literal); err != nil {
				a.errf(m.Pos(), "%s", err)
			}
		case *ast.FuncDecl:
			a.declareMethod(ci, m)
		}
	}
}

// declareMethod validates the method's `self` parameter, builds its
// Signature (excluding self), installs it in ci's dispatch table, and
// recurses to build the method body's own scope for Pass 2.
func (a *Analyzer) declareMethod(ci *types.ClassInfo, fd *ast.FuncDecl) {
	if len(fd.Params) == 0 || fd.Params[0].Name != "self" {
		a.errf(fd.Pos(), "method %q must declare a `self` parameter", fd.Name)
	} else if ct, ok := fd.Params[0].Type.(*ast.ClassType); !ok || ct.Name != ci.Name {
		a.errf(fd.Pos(), "`self` in method %q must be typed %q", fd.Name, ci.Name)
	}

	sig := &types.Signature{Return: types.NoneType}
	rest := fd.Params
	if len(rest) > 0 {
		rest = rest[1:]
	}
	for _, p := range rest {
		t, ok := a.resolveAnnotation(p.Type)
		if !ok {
			continue
		}
		sig.Params = append(sig.Params, t)
	}
	if fd.ReturnType != nil {
		if t, ok := a.resolveAnnotation(fd.ReturnType); ok {
			sig.Return = t
		}
	}

	methodSym := mangleMethod(ci.Name, fd.Name)
	if err := a.result.Classes.AddMethod(ci, fd.Name, methodSym, sig); err != nil {
		a.errf(fd.Pos(), "%s", err)
	}

	scope := a.result.Global.NewChildScope()
	scope.Class = ci
	a.bindParams(scope, fd.Params, ci)
	a.pass1FuncBody(fd, scope, ci.Name+"$"+fd.Name)
	a.result.FuncScopes[fd] = scope
	a.result.MethodOwner[fd] = ci
}

func mangleMethod(class, name string) string { return "$" + class + "$" + name }

func (a *Analyzer) declareGlobalVar(vd *ast.VarDecl) {
	t, ok := a.resolveVarDecl(vd)
	if !ok {
		return
	}
	sym := &types.Symbol{Name: vd.Name, Kind: types.SymGlobal, Type: t}
	if err := a.result.Global.Declare(sym); err != nil {
		a.errf(vd.Pos(), "%s", err)
	}
}

func (a *Analyzer) declareTopFunc(fd *ast.FuncDecl) {
	sig := &types.Signature{Return: types.NoneType}
	for _, p := range fd.Params {
		t, ok := a.resolveAnnotation(p.Type)
		if !ok {
			continue
		}
		sig.Params = append(sig.Params, t)
	}
	if fd.ReturnType != nil {
		if t, ok := a.resolveAnnotation(fd.ReturnType); ok {
			sig.Return = t
		}
	}
	sym := &types.Symbol{Name: fd.Name, Kind: types.SymFunc, Func: sig, FuncSym: fd.Name}
	if err := a.result.Global.Declare(sym); err != nil {
		a.errf(fd.Pos(), "%s", err)
	}

	scope := a.result.Global.NewChildScope()
	a.bindParams(scope, fd.Params, nil)
	a.pass1FuncBody(fd, scope, fd.Name)
	a.result.FuncScopes[fd] = scope
}

func (a *Analyzer) bindParams(scope *types.Scope, params []*ast.Param, selfClass *types.ClassInfo) {
	for i, p := range params {
		if selfClass != nil && i == 0 {
			_ = scope.Declare(&types.Symbol{Name: p.Name, Kind: types.SymParam, Type: types.Class(selfClass.Name)})
			continue
		}
		t, ok := a.resolveAnnotation(p.Type)
		if !ok {
			continue
		}
		if err := scope.Declare(&types.Symbol{Name: p.Name, Kind: types.SymParam, Type: t}); err != nil {
			a.errf(p.Pos(), "%s", err)
		}
	}
}

// pass1FuncBody declares this function's own local variables, nested
// functions (recursively), and global/nonlocal aliases, per §4.C's rule
// that `global`/`nonlocal` declarations must precede any use and may not
// coexist with a same-scope local of the same name.
func (a *Analyzer) pass1FuncBody(fd *ast.FuncDecl, scope *types.Scope, symPrefix string) {
	for _, d := range fd.Decls {
		switch d := d.(type) {
		case *ast.VarDecl:
			t, ok := a.resolveVarDecl(d)
			if !ok {
				continue
			}
			if err := scope.Declare(&types.Symbol{Name: d.Name, Kind: types.SymLocal, Type: t}); err != nil {
				a.errf(d.Pos(), "%s", err)
			}
		case *ast.FuncDecl:
			a.declareNestedFunc(d, scope, symPrefix)
		case *ast.GlobalDecl:
			sym, _ := a.result.Global.Lookup(d.Name)
			if sym == nil {
				a.errf(d.Pos(), "no global variable %q to bind", d.Name)
				continue
			}
			if err := scope.Declare(&types.Symbol{Name: d.Name, Kind: types.SymGlobal, Type: sym.Type}); err != nil {
				a.errf(d.Pos(), "%s", err)
			}
		case *ast.NonLocalDecl:
			sym, _ := scope.ResolveNonlocal(d.Name)
			if sym == nil {
				a.errf(d.Pos(), "no enclosing variable %q to bind nonlocal", d.Name)
				continue
			}
			if err := scope.Declare(&types.Symbol{Name: d.Name, Kind: types.SymNonlocal, Type: sym.Type}); err != nil {
				a.errf(d.Pos(), "%s", err)
			}
		}
	}
}

func (a *Analyzer) declareNestedFunc(fd *ast.FuncDecl, parent *types.Scope, symPrefix string) {
	sig := &types.Signature{Return: types.NoneType}
	for _, p := range fd.Params {
		t, ok := a.resolveAnnotation(p.Type)
		if !ok {
			continue
		}
		sig.Params = append(sig.Params, t)
	}
	if fd.ReturnType != nil {
		if t, ok := a.resolveAnnotation(fd.ReturnType); ok {
			sig.Return = t
		}
	}
	funcSym := "$" + symPrefix + "$" + fd.Name
	if err := parent.Declare(&types.Symbol{Name: fd.Name, Kind: types.SymFunc, Func: sig, FuncSym: funcSym}); err != nil {
		a.errf(fd.Pos(), "%s", err)
	}

	scope := parent.NewChildScope()
	a.bindParams(scope, fd.Params, nil)
	a.pass1FuncBody(fd, scope, funcSym)
	a.result.FuncScopes[fd] = scope
}

// resolveVarDecl resolves a VarDecl's annotation and validates the
// restricted initializer literal is assignable to it (§4.B/§4.C).
func (a *Analyzer) resolveVarDecl(vd *ast.VarDecl) (*types.Type, bool) {
	declared, ok := a.resolveAnnotation(vd.Type)
	if !ok {
		return nil, false
	}
	lit := literalType(vd.Literal)
	if !types.IsAssignable(a.result.Classes, declared, lit) {
		a.errf(vd.Pos(), "cannot initialize %q of type %s with a value of type %s", vd.Name, declared, lit)
	}
	return declared, true
}

func (a *Analyzer) resolveAnnotation(ann ast.TypeAnnotation) (*types.Type, bool) {
	switch ann := ann.(type) {
	case *ast.ClassType:
		switch ann.Name {
		case types.IntClass:
			return types.Int, true
		case types.BoolClass:
			return types.Bool, true
		case types.StrClass:
			return types.Str, true
		case types.ObjectClass:
			return types.Object, true
		}
		if a.result.Classes.Lookup(ann.Name) == nil {
			a.errf(ann.Pos(), "undefined type %q", ann.Name)
			return nil, false
		}
		return types.Class(ann.Name), true
	case *ast.ListType:
		elem, ok := a.resolveAnnotation(ann.Elem)
		if !ok {
			return nil, false
		}
		return types.List(elem), true
	default:
		return nil, false
	}
}

// literalType types the restricted literal grammar VarDecl initializers
// are parsed against (§4.B): int/bool/str/None literals, `-` applied to
// an int literal, and the empty list display.
func literalType(e ast.Expr) *types.Type {
	switch e := e.(type) {
	case *ast.IntLit:
		return types.Int
	case *ast.BoolLit:
		return types.Bool
	case *ast.StrLit:
		return types.Str
	case *ast.NoneLit:
		return types.NoneType
	case *ast.Unary:
		if e.Op == ast.UnaryNeg {
			return types.Int
		}
		return types.Object
	case *ast.ListExpr:
		if len(e.Elems) == 0 {
			return types.List(types.EmptyType)
		}
		return types.Object
	default:
		return types.Object
	}
}
