package sema

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/token"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

// funcCtx carries the state Pass 2 needs while walking one function
// body: its scope, and whether/what a `return` here must be compatible
// with (§4.C: top-level statements may not contain `return`).
type funcCtx struct {
	scope       *types.Scope
	returnType  *types.Type
	allowReturn bool
}

func (a *Analyzer) pass2Program(prog *ast.Program) {
	for _, d := range prog.Defs {
		switch d := d.(type) {
		case *ast.FuncDecl:
			a.checkFuncDecl(d)
		case *ast.ClassDecl:
			for _, m := range d.Members {
				if fd, ok := m.(*ast.FuncDecl); ok {
					a.checkFuncDecl(fd)
				}
			}
		}
	}
	top := funcCtx{scope: a.result.Global, returnType: types.NoneType, allowReturn: false}
	for _, s := range prog.Stmts {
		a.checkStmt(s, top)
	}
}

func (a *Analyzer) checkFuncDecl(fd *ast.FuncDecl) {
	scope, ok := a.result.FuncScopes[fd]
	if !ok {
		return
	}
	ret := types.NoneType
	if fd.ReturnType != nil {
		if t, ok := a.resolveAnnotation(fd.ReturnType); ok {
			ret = t
		}
	}
	for _, d := range fd.Decls {
		if nested, ok := d.(*ast.FuncDecl); ok {
			a.checkFuncDecl(nested)
		}
	}
	c := funcCtx{scope: scope, returnType: ret, allowReturn: true}
	for _, s := range fd.Stmts {
		a.checkStmt(s, c)
	}
}

func (a *Analyzer) checkStmt(s ast.Stmt, c funcCtx) {
	switch s := s.(type) {
	case *ast.Pass:
	case *ast.ExprStmt:
		a.checkExpr(s.X, c.scope)
	case *ast.Return:
		a.checkReturn(s, c)
	case *ast.Assign:
		a.checkAssign(s, c.scope)
	case *ast.If:
		a.expectBool(a.checkExpr(s.Cond, c.scope), s.Cond.Pos())
		for _, st := range s.Then {
			a.checkStmt(st, c)
		}
		for _, st := range s.Else {
			a.checkStmt(st, c)
		}
	case *ast.While:
		a.expectBool(a.checkExpr(s.Cond, c.scope), s.Cond.Pos())
		for _, st := range s.Body {
			a.checkStmt(st, c)
		}
	case *ast.For:
		a.checkFor(s, c)
	}
}

func (a *Analyzer) checkReturn(s *ast.Return, c funcCtx) {
	if !c.allowReturn {
		a.errf(s.Pos(), "return statement outside of a function")
		return
	}
	if s.Value == nil {
		if !types.Equal(c.returnType, types.NoneType) {
			a.errf(s.Pos(), "missing return value, expected %s", c.returnType)
		}
		return
	}
	vt := a.checkExpr(s.Value, c.scope)
	if !types.IsAssignable(a.result.Classes, c.returnType, vt) {
		a.errf(s.Pos(), "cannot return a value of type %s, expected %s", vt, c.returnType)
	}
}

func (a *Analyzer) checkAssign(s *ast.Assign, scope *types.Scope) {
	vt := a.checkExpr(s.Value, scope)
	for _, tgt := range s.Targets {
		tt, ok := a.checkAssignTarget(tgt, scope)
		if !ok {
			continue
		}
		if !types.IsAssignable(a.result.Classes, tt, vt) {
			a.errf(tgt.Pos(), "cannot assign a value of type %s to a target of type %s", vt, tt)
		}
	}
}

func (a *Analyzer) checkAssignTarget(e ast.Expr, scope *types.Scope) (*types.Type, bool) {
	switch e := e.(type) {
	case *ast.Id:
		sym, _ := scope.Lookup(e.Name)
		if sym == nil || sym.Kind == types.SymFunc {
			a.errf(e.Pos(), "%q is not an assignable variable", e.Name)
			e.SetType(types.Object)
			return nil, false
		}
		e.SetType(sym.Type)
		return sym.Type, true
	case *ast.Index:
		xt := a.checkExpr(e.X, scope)
		a.expectInt(a.checkExpr(e.I, scope), e.I.Pos())
		if xt.Kind == types.KList {
			e.SetType(xt.Elem)
			return xt.Elem, true
		}
		a.errf(e.Pos(), "cannot assign into an index of type %s", xt)
		return nil, false
	case *ast.Attr:
		xt := a.checkExpr(e.X, scope)
		if xt.Kind != types.KClass {
			a.errf(e.Pos(), "%s has no attributes", xt)
			return nil, false
		}
		ci := a.result.Classes.Lookup(xt.Class)
		attr, ok := a.result.Classes.ResolveAttribute(ci, e.Name)
		if !ok {
			a.errf(e.Pos(), "class %s has no attribute %q", xt.Class, e.Name)
			return nil, false
		}
		e.SetType(attr.Type)
		return attr.Type, true
	default:
		a.errf(e.Pos(), "expression is not assignable")
		return nil, false
	}
}

func (a *Analyzer) checkFor(s *ast.For, c funcCtx) {
	sym, _ := c.scope.Lookup(s.Name)
	if sym == nil || sym.Kind == types.SymFunc {
		a.errf(s.Pos(), "%q is not an assignable variable", s.Name)
	}
	it := a.checkExpr(s.Iter, c.scope)
	var elem *types.Type
	switch {
	case it.Kind == types.KStr:
		elem = types.Str
	case it.Kind == types.KList:
		elem = it.Elem
	default:
		a.errf(s.Iter.Pos(), "cannot iterate over a value of type %s", it)
	}
	if elem != nil && sym != nil && sym.Kind != types.SymFunc && !types.IsAssignable(a.result.Classes, sym.Type, elem) {
		a.errf(s.Pos(), "cannot assign loop element of type %s to %q of type %s", elem, s.Name, sym.Type)
	}
	for _, st := range s.Body {
		a.checkStmt(st, c)
	}
}

func (a *Analyzer) expectBool(t *types.Type, sp token.Span) {
	if !types.Equal(t, types.Bool) {
		a.errf(sp, "expected bool, found %s", t)
	}
}

func (a *Analyzer) expectInt(t *types.Type, sp token.Span) {
	if !types.Equal(t, types.Int) {
		a.errf(sp, "expected int, found %s", t)
	}
}

// checkExpr type-checks e, annotates it via SetType, and returns its
// type. On any error it annotates and returns types.Object so that
// enclosing expressions can keep checking without cascading unrelated
// errors (§4.C).
func (a *Analyzer) checkExpr(e ast.Expr, scope *types.Scope) *types.Type {
	t := a.inferExpr(e, scope)
	e.SetType(t)
	return t
}

func (a *Analyzer) inferExpr(e ast.Expr, scope *types.Scope) *types.Type {
	switch e := e.(type) {
	case *ast.IntLit:
		return types.Int
	case *ast.BoolLit:
		return types.Bool
	case *ast.StrLit:
		return types.Str
	case *ast.NoneLit:
		return types.NoneType
	case *ast.Id:
		sym, _ := scope.Lookup(e.Name)
		if sym == nil {
			a.errf(e.Pos(), "undefined identifier %q", e.Name)
			return types.Object
		}
		if sym.Kind == types.SymFunc {
			a.errf(e.Pos(), "%q is a function, not a value", e.Name)
			return types.Object
		}
		return sym.Type
	case *ast.Unary:
		xt := a.checkExpr(e.X, scope)
		if e.Op == ast.UnaryNeg {
			a.expectInt(xt, e.X.Pos())
			return types.Int
		}
		a.expectBool(xt, e.X.Pos())
		return types.Bool
	case *ast.Binary:
		return a.inferBinary(e, scope)
	case *ast.Ternary:
		a.expectBool(a.checkExpr(e.Cond, scope), e.Cond.Pos())
		th := a.checkExpr(e.Then, scope)
		el := a.checkExpr(e.Else, scope)
		return types.Join(a.result.Classes, th, el)
	case *ast.Index:
		return a.inferIndex(e, scope)
	case *ast.Attr:
		xt := a.checkExpr(e.X, scope)
		if xt.Kind != types.KClass {
			a.errf(e.Pos(), "%s has no attributes", xt)
			return types.Object
		}
		ci := a.result.Classes.Lookup(xt.Class)
		attr, ok := a.result.Classes.ResolveAttribute(ci, e.Name)
		if !ok {
			a.errf(e.Pos(), "class %s has no attribute %q", xt.Class, e.Name)
			return types.Object
		}
		return attr.Type
	case *ast.Call:
		return a.inferCall(e, scope)
	case *ast.MethodCall:
		return a.inferMethodCall(e, scope)
	case *ast.ListExpr:
		return a.inferListExpr(e, scope)
	default:
		return types.Object
	}
}

func (a *Analyzer) inferBinary(e *ast.Binary, scope *types.Scope) *types.Type {
	xt := a.checkExpr(e.X, scope)
	yt := a.checkExpr(e.Y, scope)
	switch e.Op {
	case ast.BinAdd:
		switch {
		case types.Equal(xt, types.Int) && types.Equal(yt, types.Int):
			return types.Int
		case xt.Kind == types.KStr && yt.Kind == types.KStr:
			return types.Str
		case xt.Kind == types.KList && yt.Kind == types.KList:
			return types.List(types.Join(a.result.Classes, xt.Elem, yt.Elem))
		default:
			a.errf(e.Pos(), "cannot add %s and %s", xt, yt)
			return types.Object
		}
	case ast.BinSub, ast.BinMul, ast.BinFloorDiv, ast.BinMod:
		a.expectInt(xt, e.X.Pos())
		a.expectInt(yt, e.Y.Pos())
		return types.Int
	case ast.BinLess, ast.BinLessEq, ast.BinGreater, ast.BinGreaterEq:
		a.expectInt(xt, e.X.Pos())
		a.expectInt(yt, e.Y.Pos())
		return types.Bool
	case ast.BinEq, ast.BinNotEq:
		if types.Equal(xt, yt) && (xt.Kind == types.KInt || xt.Kind == types.KBool || xt.Kind == types.KStr) {
			return types.Bool
		}
		a.errf(e.Pos(), "== and != require two values of the same int, bool, or str type, found %s and %s", xt, yt)
		return types.Bool
	case ast.BinIs:
		if isComparable(xt) && isComparable(yt) {
			return types.Bool
		}
		a.errf(e.Pos(), "is requires two reference values, found %s and %s", xt, yt)
		return types.Bool
	case ast.BinAnd, ast.BinOr:
		a.expectBool(xt, e.X.Pos())
		a.expectBool(yt, e.Y.Pos())
		return types.Bool
	default:
		return types.Object
	}
}

// isComparable reports whether t is eligible as an operand of `is`:
// any reference type except str, which ChocoPy reserves for value
// equality via `==` (§4.D).
func isComparable(t *types.Type) bool {
	return types.IsReferenceType(t) && t.Kind != types.KStr
}

func (a *Analyzer) inferIndex(e *ast.Index, scope *types.Scope) *types.Type {
	xt := a.checkExpr(e.X, scope)
	a.expectInt(a.checkExpr(e.I, scope), e.I.Pos())
	switch xt.Kind {
	case types.KList:
		return xt.Elem
	case types.KStr:
		return types.Str
	default:
		a.errf(e.Pos(), "cannot index a value of type %s", xt)
		return types.Object
	}
}

func (a *Analyzer) inferListExpr(e *ast.ListExpr, scope *types.Scope) *types.Type {
	if len(e.Elems) == 0 {
		return types.List(types.EmptyType)
	}
	elem := a.checkExpr(e.Elems[0], scope)
	for _, el := range e.Elems[1:] {
		elem = types.Join(a.result.Classes, elem, a.checkExpr(el, scope))
	}
	return types.List(elem)
}

func (a *Analyzer) inferCall(e *ast.Call, scope *types.Scope) *types.Type {
	id, ok := e.Fun.(*ast.Id)
	if !ok {
		a.errf(e.Pos(), "call target is not callable")
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return types.Object
	}
	if ci := a.result.Classes.Lookup(id.Name); ci != nil && ci.Tag != types.TagInt && ci.Tag != types.TagBool && ci.Tag != types.TagStr {
		if len(e.Args) != 0 {
			a.errf(e.Pos(), "constructor %q takes no arguments", id.Name)
		}
		return types.Class(id.Name)
	}
	switch id.Name {
	case "print":
		if len(e.Args) != 1 {
			a.errf(e.Pos(), "print expects exactly 1 argument, got %d", len(e.Args))
			for _, arg := range e.Args {
				a.checkExpr(arg, scope)
			}
			return types.NoneType
		}
		at := a.checkExpr(e.Args[0], scope)
		if at.Kind != types.KInt && at.Kind != types.KBool && at.Kind != types.KStr {
			a.errf(e.Pos(), "print expects an int, bool, or str, found %s", at)
		}
		return types.NoneType
	case "len":
		if len(e.Args) != 1 {
			a.errf(e.Pos(), "len expects exactly 1 argument, got %d", len(e.Args))
			return types.Int
		}
		at := a.checkExpr(e.Args[0], scope)
		if at.Kind != types.KStr && at.Kind != types.KList {
			a.errf(e.Pos(), "len expects a str or list, found %s", at)
		}
		return types.Int
	case "input":
		if len(e.Args) != 0 {
			a.errf(e.Pos(), "input expects no arguments, got %d", len(e.Args))
		}
		return types.Str
	}
	sym, _ := scope.Lookup(id.Name)
	if sym == nil || sym.Kind != types.SymFunc || sym.Func == nil {
		a.errf(e.Pos(), "%q is not a function", id.Name)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return types.Object
	}
	a.checkArgs(e.Pos(), fmt.Sprintf("function %q", id.Name), sym.Func.Params, e.Args, scope)
	return sym.Func.Return
}

func (a *Analyzer) inferMethodCall(e *ast.MethodCall, scope *types.Scope) *types.Type {
	xt := a.checkExpr(e.X, scope)
	if xt.Kind != types.KClass {
		a.errf(e.Pos(), "%s has no methods", xt)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return types.Object
	}
	ci := a.result.Classes.Lookup(xt.Class)
	m, ok := a.result.Classes.ResolveMethod(ci, e.Name)
	if !ok || m.Signature == nil {
		a.errf(e.Pos(), "class %s has no method %q", xt.Class, e.Name)
		for _, arg := range e.Args {
			a.checkExpr(arg, scope)
		}
		return types.Object
	}
	a.checkArgs(e.Pos(), fmt.Sprintf("method %q", e.Name), m.Signature.Params, e.Args, scope)
	return m.Signature.Return
}

// checkArgs type-checks a call's arguments against params, accumulating
// every arity/type mismatch into a single multierr before reporting -
// so one badly-typed call produces one diagnostic burst instead of the
// analyzer bailing out after the first bad argument.
func (a *Analyzer) checkArgs(sp token.Span, label string, params []*types.Type, args []ast.Expr, scope *types.Scope) {
	var errs error
	if len(args) != len(params) {
		errs = multierr.Append(errs, fmt.Errorf("%s expects %d argument(s), got %d", label, len(params), len(args)))
	}
	n := len(args)
	if len(params) < n {
		n = len(params)
	}
	for i := 0; i < n; i++ {
		at := a.checkExpr(args[i], scope)
		if !types.IsAssignable(a.result.Classes, params[i], at) {
			errs = multierr.Append(errs, fmt.Errorf("argument %d: cannot pass %s as %s", i+1, at, params[i]))
		}
	}
	for i := n; i < len(args); i++ {
		a.checkExpr(args[i], scope)
	}
	for _, err := range multierr.Errors(errs) {
		a.errf(sp, "%s", err)
	}
}
