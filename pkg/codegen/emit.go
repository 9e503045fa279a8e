package codegen

import (
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/debuginfo"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

// funcEmit lowers one function body. Expressions are evaluated as a
// stack machine over the x86 stack (§4.E): every expression leaves its
// result in RAX with no net stack movement, so statement boundaries
// always sit at a known depth and the emitter can compute CALL
// alignment padding statically.
//
// Reference ownership protocol: every reference-typed expression result
// is an owned (+1) reference, spilled into a fresh frame temporary and
// recorded in temps. Temporaries are released when their enclosing
// statement completes, on every return path, and per-iteration for loop
// conditions. The prologue zeroes the whole frame, so releasing a
// temporary whose producing branch never ran degenerates to
// $release(None), a no-op.
type funcEmit struct {
	g        *Generator
	scope    *types.Scope
	frame    *Frame
	buf      *Buffer
	retLabel string

	labels   map[string]int64
	depth    int32   // bytes pushed below the fixed frame since the prologue
	temps    []int32 // frame offsets of live owned reference temporaries
	retSlot  int32
	subPatch int64

	// encl lists the lexically enclosing function emitters, outermost
	// first; empty for top-level functions, methods and $chocopy_main.
	encl []*funcEmit

	debug *debuginfo.Function
}

func typeOf(e ast.Expr) *types.Type {
	if t, ok := e.Type().(*types.Type); ok && t != nil {
		return t
	}
	return types.Object
}

func (fe *funcEmit) bind(label string) { fe.labels[label] = fe.buf.Len() }

func (fe *funcEmit) push(r Reg) {
	fe.buf.Push(r)
	fe.depth += 8
}

func (fe *funcEmit) pop(r Reg) {
	fe.buf.Pop(r)
	fe.depth -= 8
}

// ccall emits a call to a C-ABI runtime symbol, padding RSP so the
// stack is 16-byte aligned at the CALL (§4.E, testable property 4).
func (fe *funcEmit) ccall(sym string) {
	pad := (16 - fe.depth%16) % 16
	if pad != 0 {
		fe.buf.SubImm32(RSP, pad)
		fe.depth += pad
	}
	fe.buf.CallReloc(sym)
	if pad != 0 {
		fe.buf.AddImm32(RSP, pad)
		fe.depth -= pad
	}
}

// spill stores RAX into a fresh anonymous frame slot.
func (fe *funcEmit) spill() int32 {
	off := fe.frame.AllocTemp()
	fe.buf.MovStoreDisp(RBP, off, RAX)
	return off
}

// spillRef spills an owned reference and records it for release.
func (fe *funcEmit) spillRef() int32 {
	off := fe.spill()
	fe.temps = append(fe.temps, off)
	return off
}

// finishRef spills the call result in RAX when t is reference-typed,
// so the caller of expr sees the uniform owned-temporary contract.
func (fe *funcEmit) finishRef(t *types.Type) int32 {
	if types.IsReferenceType(t) {
		return fe.spillRef()
	}
	return -1
}

// emitReleases releases every recorded temporary at index >= from,
// newest first, without forgetting them (a Return inside a loop body
// releases temporaries that later iterations of the emitter still
// track).
func (fe *funcEmit) emitReleases(from int) {
	for i := len(fe.temps) - 1; i >= from; i-- {
		fe.buf.MovLoadDisp(RDI, RBP, fe.temps[i])
		fe.ccall(symRelease)
	}
}

// popTemps releases and forgets every temporary recorded since mark.
// preserve saves RAX across the $release calls.
func (fe *funcEmit) popTemps(mark int, preserve bool) {
	if len(fe.temps) == mark {
		return
	}
	var scratch int32
	if preserve {
		scratch = fe.spill()
	}
	fe.emitReleases(mark)
	if preserve {
		fe.buf.MovLoadDisp(RAX, RBP, scratch)
	}
	fe.temps = fe.temps[:mark]
}

// noneCheck faults to $none_op when RAX holds a None reference, the
// check §4.E requires ahead of dispatch, attribute access and
// array-like operations. $none_op never returns.
func (fe *funcEmit) noneCheck() {
	ok := fe.g.label("notnone")
	fe.buf.TestRR(RAX, RAX)
	fe.buf.JccReloc(CondNZ, ok)
	fe.ccall(symNoneOp)
	fe.bind(ok)
}

// prologue establishes the §4.E frame: saved RBP, a frame-size SUB
// patched once the body is emitted, the saved static link for nested
// functions, and a loop zeroing every local/temporary slot so that
// reference locals start as None and untaken-branch temporaries release
// as no-ops.
func (fe *funcEmit) prologue() {
	b := fe.buf
	b.Push(RBP)
	b.MovRR(RBP, RSP)
	b.SubImm32(RSP, 0)
	fe.subPatch = b.Len() - 4
	if fe.frame.hasStaticLink {
		b.MovStoreDisp(RBP, fe.frame.StaticLinkOffset(), R10)
	}
	fe.retSlot = fe.frame.AllocTemp()

	zl := fe.g.label("zero")
	zdone := fe.g.label("zerodone")
	b.XorRR(RAX, RAX)
	b.MovRR(RCX, RSP)
	fe.bind(zl)
	b.CmpRR(RCX, RBP)
	b.JccReloc(CondAE, zdone)
	b.MovStoreDisp(RCX, 0, RAX)
	b.AddImm32(RCX, 8)
	b.JmpReloc(zl)
	fe.bind(zdone)
}

// initLocal materializes a local variable's declared literal initial
// value. None stays at the zero the prologue wrote.
func (fe *funcEmit) initLocal(vd *ast.VarDecl) {
	sym, _ := fe.scope.LookupLocal(vd.Name)
	off, _, ok := fe.frame.Offset(vd.Name)
	if sym == nil || !ok {
		return
	}
	if emitInitValue(fe, sym.Type, vd.Literal) {
		fe.buf.MovStoreDisp(RBP, off, RAX)
	}
}

// emitInitValue places a declaration's literal initial value in RAX,
// already owned for reference types. Returns false when the slot should
// keep its zero (a None default).
func emitInitValue(fe *funcEmit, declared *types.Type, lit ast.Expr) bool {
	b := fe.buf
	switch lit := lit.(type) {
	case *ast.IntLit:
		b.MovImm32(RAX, int32(lit.Value))
		return true
	case *ast.BoolLit:
		v := int32(0)
		if lit.Value {
			v = 1
		}
		b.MovImm32(RAX, v)
		return true
	case *ast.StrLit:
		b.LeaRIPReloc(RDI, fe.g.intern(lit.Value))
		fe.ccall(symRetain)
		return true
	case *ast.Unary:
		if il, ok := lit.X.(*ast.IntLit); ok && lit.Op == ast.UnaryNeg {
			b.MovAbs(RAX, uint64(-il.Value))
			return true
		}
		return false
	case *ast.ListExpr:
		if len(lit.Elems) != 0 || declared == nil || declared.Kind != types.KList {
			return false
		}
		proto := fe.g.res.Classes.ListProto(declared.Elem)
		b.LeaRIPReloc(RDI, ProtoSymbol(proto.Name))
		b.MovImm32(RSI, 0)
		fe.ccall(symNewList)
		return true
	default:
		return false
	}
}

// epilogue is the single return path: release every reference local,
// reload the return value, tear down the frame, and patch the prologue's
// frame-size SUB now that every temporary has been allocated.
func (fe *funcEmit) epilogue(refLocals []int32) {
	b := fe.buf
	fe.bind(fe.retLabel)
	for _, off := range refLocals {
		b.MovLoadDisp(RDI, RBP, off)
		fe.ccall(symRelease)
	}
	b.MovLoadDisp(RAX, RBP, fe.retSlot)
	b.MovRR(RSP, RBP)
	b.Pop(RBP)
	b.Ret()

	size := (fe.frame.LocalsSize() + 15) &^ 15
	b.patch32(fe.subPatch, uint32(size))
	b.ResolveLocalLabels(fe.labels)
}

func (fe *funcEmit) seqPoint(s ast.Stmt) {
	if fe.debug == nil {
		return
	}
	line := s.Pos().StartLine
	n := len(fe.debug.SeqPoints)
	if n > 0 && fe.debug.SeqPoints[n-1].Line == line {
		return
	}
	fe.debug.SeqPoints = append(fe.debug.SeqPoints, debuginfo.SeqPoint{
		CodeOffset: fe.buf.Len(),
		Line:       line,
	})
}

// ---- statements ----

func (fe *funcEmit) stmt(s ast.Stmt) {
	fe.seqPoint(s)
	mark := len(fe.temps)
	switch s := s.(type) {
	case *ast.Pass:
	case *ast.ExprStmt:
		fe.expr(s.X)
	case *ast.Assign:
		fe.assign(s)
	case *ast.Return:
		fe.emitReturn(s)
	case *ast.If:
		fe.emitIf(s)
	case *ast.While:
		fe.emitWhile(s)
	case *ast.For:
		fe.emitFor(s)
	}
	fe.popTemps(mark, false)
}

func (fe *funcEmit) emitReturn(s *ast.Return) {
	b := fe.buf
	if s.Value != nil {
		fe.expr(s.Value)
		if types.IsReferenceType(typeOf(s.Value)) {
			// The result is a recorded temporary; retain a second
			// reference to transfer to the caller, then let the
			// release sweep below drop the temporary's own count.
			b.MovRR(RDI, RAX)
			fe.ccall(symRetain)
		}
		b.MovStoreDisp(RBP, fe.retSlot, RAX)
	}
	fe.emitReleases(0)
	if s.Value == nil {
		b.XorRR(RAX, RAX)
		b.MovStoreDisp(RBP, fe.retSlot, RAX)
	}
	b.JmpReloc(fe.retLabel)
}

func (fe *funcEmit) emitIf(s *ast.If) {
	b := fe.buf
	elseL := fe.g.label("else")
	endL := fe.g.label("endif")
	mark := len(fe.temps)
	fe.expr(s.Cond)
	fe.popTemps(mark, true)
	b.TestRR(RAX, RAX)
	b.JccReloc(CondZ, elseL)
	for _, st := range s.Then {
		fe.stmt(st)
	}
	b.JmpReloc(endL)
	fe.bind(elseL)
	for _, st := range s.Else {
		fe.stmt(st)
	}
	fe.bind(endL)
}

func (fe *funcEmit) emitWhile(s *ast.While) {
	b := fe.buf
	loop := fe.g.label("while")
	end := fe.g.label("endwhile")
	fe.bind(loop)
	mark := len(fe.temps)
	fe.expr(s.Cond)
	fe.popTemps(mark, true)
	b.TestRR(RAX, RAX)
	b.JccReloc(CondZ, end)
	for _, st := range s.Body {
		fe.stmt(st)
	}
	b.JmpReloc(loop)
	fe.bind(end)
}

// emitFor lowers `for x in iter` over a str or a list: the iterable is
// held in an owned temporary for the loop's duration, a hidden index
// counts up to the array-like's $len, and each element is fetched
// through the runtime's bounds-checked getter (which hands back ref
// elements already retained, matching the loop variable's consumption).
func (fe *funcEmit) emitFor(s *ast.For) {
	b := fe.buf
	it := typeOf(s.Iter)
	loop := fe.g.label("for")
	end := fe.g.label("endfor")

	iterSlot := fe.expr(s.Iter)
	fe.noneCheck()
	idxSlot := fe.frame.AllocTemp()
	b.XorRR(RAX, RAX)
	b.MovStoreDisp(RBP, idxSlot, RAX)

	fe.bind(loop)
	b.MovLoadDisp(RAX, RBP, iterSlot)
	b.MovLoadDisp(RCX, RAX, ArrayLenOffset)
	b.MovLoadDisp(RDX, RBP, idxSlot)
	b.CmpRR(RDX, RCX)
	b.JccReloc(CondGE, end)

	b.MovLoadDisp(RDI, RBP, iterSlot)
	b.MovRR(RSI, RDX)
	var elem *types.Type
	if it.Kind == types.KStr {
		fe.ccall(symStrGetItem)
		elem = types.Str
	} else {
		fe.ccall(symListGetItem)
		elem = it.Elem
	}
	fe.storeVar(s.Name, elem)

	for _, st := range s.Body {
		fe.stmt(st)
	}
	b.MovLoadDisp(RAX, RBP, idxSlot)
	b.AddImm32(RAX, 1)
	b.MovStoreDisp(RBP, idxSlot, RAX)
	b.JmpReloc(loop)
	fe.bind(end)
}

// assign evaluates the value once, then stores it into each target left
// to right. Reference stores follow §4.E's retain-new-then-release-old
// order: plain variable slots retain explicitly here, while attribute
// and element stores delegate to $store_attr/$list_setitem, which
// retain internally.
func (fe *funcEmit) assign(s *ast.Assign) {
	b := fe.buf
	vt := typeOf(s.Value)
	ref := types.IsReferenceType(vt)
	vslot := fe.expr(s.Value)
	if !ref {
		vslot = fe.spill()
	}

	for _, tgt := range s.Targets {
		switch tgt := tgt.(type) {
		case *ast.Id:
			b.MovLoadDisp(RAX, RBP, vslot)
			if ref {
				b.MovRR(RDI, RAX)
				fe.ccall(symRetain)
			}
			fe.storeVar(tgt.Name, vt)
		case *ast.Attr:
			oslot := fe.expr(tgt.X)
			fe.noneCheck()
			ci := fe.g.res.Classes.Lookup(typeOf(tgt.X).Class)
			attr, ok := fe.g.res.Classes.ResolveAttribute(ci, tgt.Name)
			if !ok {
				continue
			}
			if types.IsReferenceType(attr.Type) {
				b.MovLoadDisp(RDI, RBP, oslot)
				b.MovLoadDisp(RSI, RBP, vslot)
				b.MovImm32(RDX, int32(HeaderSize+attr.Offset))
				fe.ccall(symStoreAttr)
			} else {
				b.MovLoadDisp(RCX, RBP, oslot)
				b.MovLoadDisp(RAX, RBP, vslot)
				if attr.Type.Kind == types.KBool {
					b.MovStore8(RCX, int32(HeaderSize+attr.Offset), RAX)
				} else {
					b.MovStore32(RCX, int32(HeaderSize+attr.Offset), RAX)
				}
			}
		case *ast.Index:
			oslot := fe.expr(tgt.X)
			fe.noneCheck()
			fe.expr(tgt.I)
			islot := fe.spill()
			b.MovLoadDisp(RDI, RBP, oslot)
			b.MovLoadDisp(RSI, RBP, islot)
			b.MovLoadDisp(RDX, RBP, vslot)
			fe.ccall(symListSetItem)
		}
	}
}

// ---- variable access ----

// varAddr resolves name to a (base register, offset) pair, emitting the
// static-link walk (§4.E: saved static link, one hop per enclosing
// frame) or a RIP-relative global address into R11 as needed.
func (fe *funcEmit) varAddr(name string) (Reg, int32) {
	sym, owner := fe.scope.Lookup(name)
	if sym == nil {
		return RBP, 0
	}
	switch {
	case sym.Kind == types.SymGlobal, owner.IsGlobal:
		fe.buf.LeaRIPReloc(R11, name)
		return R11, 0
	case sym.Kind == types.SymNonlocal:
		_, owner = fe.scope.ResolveNonlocal(name)
	}
	if owner == fe.scope {
		off, _, _ := fe.frame.Offset(name)
		return RBP, off
	}
	for i := len(fe.encl) - 1; i >= 0; i-- {
		if fe.encl[i].scope != owner {
			continue
		}
		hops := len(fe.encl) - i
		fe.buf.MovLoadDisp(R11, RBP, fe.frame.StaticLinkOffset())
		for h := 1; h < hops; h++ {
			fe.buf.MovLoadDisp(R11, R11, fe.encl[len(fe.encl)-h].frame.StaticLinkOffset())
		}
		off, _, _ := fe.encl[i].frame.Offset(name)
		return R11, off
	}
	return RBP, 0
}

func (fe *funcEmit) loadVar(name string) {
	base, off := fe.varAddr(name)
	fe.buf.MovLoadDisp(RAX, base, off)
}

// storeVar stores RAX into name, consuming one owned reference for
// reference-typed values (release the old slot value after the store).
func (fe *funcEmit) storeVar(name string, t *types.Type) {
	b := fe.buf
	base, off := fe.varAddr(name)
	if !types.IsReferenceType(t) {
		b.MovStoreDisp(base, off, RAX)
		return
	}
	b.MovLoadDisp(RCX, base, off)
	b.MovStoreDisp(base, off, RAX)
	b.MovRR(RDI, RCX)
	fe.ccall(symRelease)
}

// ---- expressions ----

// expr evaluates e into RAX. Reference-typed results are owned and
// spilled into a recorded temporary whose frame offset is returned;
// value-typed results return -1.
func (fe *funcEmit) expr(e ast.Expr) int32 {
	b := fe.buf
	t := typeOf(e)
	switch e := e.(type) {
	case *ast.IntLit:
		if e.Value == int64(int32(e.Value)) {
			b.MovImm32(RAX, int32(e.Value))
		} else {
			b.MovAbs(RAX, uint64(e.Value))
		}
		return -1
	case *ast.BoolLit:
		v := int32(0)
		if e.Value {
			v = 1
		}
		b.MovImm32(RAX, v)
		return -1
	case *ast.NoneLit:
		b.XorRR(RAX, RAX)
		return fe.spillRef()
	case *ast.StrLit:
		b.LeaRIPReloc(RDI, fe.g.intern(e.Value))
		fe.ccall(symRetain)
		return fe.spillRef()
	case *ast.Id:
		fe.loadVar(e.Name)
		if types.IsReferenceType(t) {
			b.MovRR(RDI, RAX)
			fe.ccall(symRetain)
			return fe.spillRef()
		}
		return -1
	case *ast.Unary:
		fe.expr(e.X)
		if e.Op == ast.UnaryNeg {
			b.NegR(RAX)
		} else {
			b.TestRR(RAX, RAX)
			b.SetccR(CondZ, RAX)
		}
		return -1
	case *ast.Binary:
		return fe.binary(e)
	case *ast.Ternary:
		return fe.ternary(e)
	case *ast.Index:
		return fe.index(e)
	case *ast.Attr:
		return fe.attr(e)
	case *ast.Call:
		return fe.call(e)
	case *ast.MethodCall:
		return fe.methodCall(e)
	case *ast.ListExpr:
		return fe.listExpr(e)
	default:
		b.XorRR(RAX, RAX)
		return fe.finishRef(t)
	}
}

func (fe *funcEmit) ternary(e *ast.Ternary) int32 {
	b := fe.buf
	t := typeOf(e)
	ref := types.IsReferenceType(t)
	resSlot := fe.frame.AllocTemp()
	if ref {
		fe.temps = append(fe.temps, resSlot)
	}
	elseL := fe.g.label("ternelse")
	endL := fe.g.label("ternend")

	fe.expr(e.Cond)
	b.TestRR(RAX, RAX)
	b.JccReloc(CondZ, elseL)
	fe.expr(e.Then)
	if ref {
		b.MovRR(RDI, RAX)
		fe.ccall(symRetain)
	}
	b.MovStoreDisp(RBP, resSlot, RAX)
	b.JmpReloc(endL)
	fe.bind(elseL)
	fe.expr(e.Else)
	if ref {
		b.MovRR(RDI, RAX)
		fe.ccall(symRetain)
	}
	b.MovStoreDisp(RBP, resSlot, RAX)
	fe.bind(endL)
	b.MovLoadDisp(RAX, RBP, resSlot)
	if ref {
		return resSlot
	}
	return -1
}

func (fe *funcEmit) index(e *ast.Index) int32 {
	b := fe.buf
	t := typeOf(e)
	oslot := fe.expr(e.X)
	fe.noneCheck()
	fe.expr(e.I)
	islot := fe.spill()
	b.MovLoadDisp(RDI, RBP, oslot)
	b.MovLoadDisp(RSI, RBP, islot)
	if typeOf(e.X).Kind == types.KStr {
		fe.ccall(symStrGetItem)
	} else {
		fe.ccall(symListGetItem)
	}
	return fe.finishRef(t)
}

func (fe *funcEmit) attr(e *ast.Attr) int32 {
	b := fe.buf
	t := typeOf(e)
	fe.expr(e.X)
	fe.noneCheck()
	ci := fe.g.res.Classes.Lookup(typeOf(e.X).Class)
	attr, ok := fe.g.res.Classes.ResolveAttribute(ci, e.Name)
	if !ok {
		return fe.finishRef(t)
	}
	off := int32(HeaderSize + attr.Offset)
	switch attr.Type.Kind {
	case types.KInt:
		b.MovLoad32SX(RAX, RAX, off)
		return -1
	case types.KBool:
		b.MovLoadU8(RAX, RAX, off)
		return -1
	default:
		b.MovLoadDisp(RAX, RAX, off)
		b.MovRR(RDI, RAX)
		fe.ccall(symRetain)
		return fe.spillRef()
	}
}

func (fe *funcEmit) binary(e *ast.Binary) int32 {
	b := fe.buf
	xt := typeOf(e.X)
	switch e.Op {
	case ast.BinAnd, ast.BinOr:
		end := fe.g.label("shortcircuit")
		fe.expr(e.X)
		b.TestRR(RAX, RAX)
		if e.Op == ast.BinAnd {
			b.JccReloc(CondZ, end)
		} else {
			b.JccReloc(CondNZ, end)
		}
		fe.expr(e.Y)
		fe.bind(end)
		return -1

	case ast.BinAdd:
		switch xt.Kind {
		case types.KStr:
			return fe.concat(e, symStrConcat, "")
		case types.KList, types.KEmpty:
			proto := fe.g.res.Classes.ListProto(typeOf(e).Elem)
			return fe.concat(e, symListConcat, ProtoSymbol(proto.Name))
		}
		fe.intOperands(e)
		b.AddRR(RAX, RCX)
		return -1
	case ast.BinSub:
		fe.intOperands(e)
		b.SubRR(RAX, RCX)
		return -1
	case ast.BinMul:
		fe.intOperands(e)
		b.ImulRR(RAX, RCX)
		return -1
	case ast.BinFloorDiv, ast.BinMod:
		return fe.divMod(e)

	case ast.BinLess, ast.BinLessEq, ast.BinGreater, ast.BinGreaterEq:
		fe.intOperands(e)
		b.CmpRR(RAX, RCX)
		b.SetccR(cmpCond(e.Op), RAX)
		return -1

	case ast.BinEq, ast.BinNotEq:
		if xt.Kind == types.KStr {
			l := fe.expr(e.X)
			r := fe.expr(e.Y)
			b.MovLoadDisp(RAX, RBP, l)
			fe.noneCheck()
			b.MovLoadDisp(RAX, RBP, r)
			fe.noneCheck()
			b.MovLoadDisp(RDI, RBP, l)
			b.MovLoadDisp(RSI, RBP, r)
			fe.ccall(symStrEq)
			if e.Op == ast.BinNotEq {
				b.TestRR(RAX, RAX)
				b.SetccR(CondZ, RAX)
			}
			return -1
		}
		fe.intOperands(e)
		b.CmpRR(RAX, RCX)
		if e.Op == ast.BinEq {
			b.SetccR(CondEQ, RAX)
		} else {
			b.SetccR(CondNE, RAX)
		}
		return -1

	case ast.BinIs:
		l := fe.expr(e.X)
		r := fe.expr(e.Y)
		b.MovLoadDisp(RAX, RBP, l)
		b.MovLoadDisp(RCX, RBP, r)
		b.CmpRR(RAX, RCX)
		b.SetccR(CondEQ, RAX)
		return -1
	}
	return -1
}

func cmpCond(op ast.BinOp) CondCode {
	switch op {
	case ast.BinLess:
		return CondLT
	case ast.BinLessEq:
		return CondLE
	case ast.BinGreater:
		return CondGT
	default:
		return CondGE
	}
}

// intOperands leaves left in RAX and right in RCX, using the x86 stack
// to keep the left value alive across the right operand's evaluation
// (§4.E's stack-machine scheme).
func (fe *funcEmit) intOperands(e *ast.Binary) {
	fe.expr(e.X)
	fe.push(RAX)
	fe.expr(e.Y)
	fe.buf.MovRR(RCX, RAX)
	fe.pop(RAX)
}

// concat lowers str/list concatenation to the runtime's allocating
// helpers; list results carry the result type's prototype (§4.E).
func (fe *funcEmit) concat(e *ast.Binary, sym, proto string) int32 {
	b := fe.buf
	l := fe.expr(e.X)
	r := fe.expr(e.Y)
	b.MovLoadDisp(RAX, RBP, l)
	fe.noneCheck()
	b.MovLoadDisp(RAX, RBP, r)
	fe.noneCheck()
	if proto != "" {
		b.LeaRIPReloc(RDI, proto)
		b.MovLoadDisp(RSI, RBP, l)
		b.MovLoadDisp(RDX, RBP, r)
	} else {
		b.MovLoadDisp(RDI, RBP, l)
		b.MovLoadDisp(RSI, RBP, r)
	}
	fe.ccall(sym)
	return fe.spillRef()
}

// divMod implements Python floor division and modulo over the hardware
// IDIV, adjusting the truncated quotient/remainder when the operand
// signs differ (§4.E), and faulting to $div_zero on a zero divisor.
func (fe *funcEmit) divMod(e *ast.Binary) int32 {
	b := fe.buf
	fe.intOperands(e)
	ok := fe.g.label("divok")
	b.TestRR(RCX, RCX)
	b.JccReloc(CondNZ, ok)
	fe.ccall(symDivZero)
	fe.bind(ok)
	b.Cqo()
	b.IdivR(RCX)
	done := fe.g.label("divdone")
	b.TestRR(RDX, RDX)
	b.JccReloc(CondZ, done)
	b.MovRR(R11, RDX)
	b.XorRR(R11, RCX)
	b.JccReloc(CondNS, done)
	if e.Op == ast.BinFloorDiv {
		b.SubImm32(RAX, 1)
	} else {
		b.AddRR(RDX, RCX)
	}
	fe.bind(done)
	if e.Op == ast.BinMod {
		b.MovRR(RAX, RDX)
	}
	return -1
}

func (fe *funcEmit) listExpr(e *ast.ListExpr) int32 {
	b := fe.buf
	t := typeOf(e)
	elem := types.EmptyType
	if t.Kind == types.KList {
		elem = t.Elem
	}
	proto := fe.g.res.Classes.ListProto(elem)
	b.LeaRIPReloc(RDI, ProtoSymbol(proto.Name))
	b.MovImm32(RSI, int32(len(e.Elems)))
	fe.ccall(symNewList)
	lslot := fe.spillRef()
	for i, el := range e.Elems {
		fe.expr(el)
		vtmp := fe.spill()
		b.MovLoadDisp(RDI, RBP, lslot)
		b.MovImm32(RSI, int32(i))
		b.MovLoadDisp(RDX, RBP, vtmp)
		fe.ccall(symListSetItem)
	}
	b.MovLoadDisp(RAX, RBP, lslot)
	return lslot
}

// argArea reserves the outgoing-argument slots plus the padding that
// makes RSP 16-byte aligned at the upcoming CALL; §4.E's frame layout
// places these at the top of the frame, leftmost argument at the lowest
// address.
func (fe *funcEmit) argArea(slots int) int32 {
	area := int32(slots * 8)
	area += (16 - (fe.depth+area)%16) % 16
	if area != 0 {
		fe.buf.SubImm32(RSP, area)
		fe.depth += area
	}
	return area
}

func (fe *funcEmit) dropArgArea(area int32) {
	if area != 0 {
		fe.buf.AddImm32(RSP, area)
		fe.depth -= area
	}
}

// setStaticLink loads R10 with the frame pointer of the callee's
// defining function (§4.E: static link in R10).
func (fe *funcEmit) setStaticLink(owner *types.Scope) {
	b := fe.buf
	if owner == fe.scope {
		b.MovRR(R10, RBP)
		return
	}
	for i := len(fe.encl) - 1; i >= 0; i-- {
		if fe.encl[i].scope != owner {
			continue
		}
		hops := len(fe.encl) - i
		b.MovLoadDisp(R10, RBP, fe.frame.StaticLinkOffset())
		for h := 1; h < hops; h++ {
			b.MovLoadDisp(R10, R10, fe.encl[len(fe.encl)-h].frame.StaticLinkOffset())
		}
		return
	}
}

func (fe *funcEmit) call(e *ast.Call) int32 {
	b := fe.buf
	t := typeOf(e)
	id, ok := e.Fun.(*ast.Id)
	if !ok {
		b.XorRR(RAX, RAX)
		return fe.finishRef(t)
	}

	switch id.Name {
	case "print":
		at := typeOf(e.Args[0])
		fe.expr(e.Args[0])
		sym := symPrintInt
		switch at.Kind {
		case types.KBool:
			sym = symPrintBool
		case types.KStr:
			fe.noneCheck()
			sym = symPrintStr
		}
		b.MovRR(RDI, RAX)
		fe.ccall(sym)
		b.XorRR(RAX, RAX)
		return fe.finishRef(t)
	case "len":
		at := typeOf(e.Args[0])
		fe.expr(e.Args[0])
		fe.noneCheck()
		b.MovRR(RDI, RAX)
		if at.Kind == types.KStr {
			fe.ccall(symLenStr)
		} else {
			fe.ccall(symLenList)
		}
		return -1
	case "input":
		fe.ccall(symInput)
		return fe.spillRef()
	}

	if ci := fe.g.res.Classes.Lookup(id.Name); ci != nil && !isRuntimeBuiltin(id.Name) || id.Name == types.ObjectClass {
		area := fe.argArea(0)
		b.CallReloc(CtorSymbol(id.Name))
		fe.dropArgArea(area)
		return fe.finishRef(t)
	}

	sym, owner := fe.scope.Lookup(id.Name)
	if sym == nil || sym.Kind != types.SymFunc {
		b.XorRR(RAX, RAX)
		return fe.finishRef(t)
	}
	area := fe.argArea(len(e.Args))
	for i, arg := range e.Args {
		fe.expr(arg)
		b.MovStoreDisp(RSP, int32(8*i), RAX)
	}
	if !owner.IsGlobal {
		fe.setStaticLink(owner)
	}
	b.CallReloc(sym.FuncSym)
	fe.dropArgArea(area)
	return fe.finishRef(t)
}

// methodCall compiles §4.E's dispatch sequence: push the receiver as
// argument 0, check it against None, load its prototype and call
// indirectly through the method's inheritance-stable slot.
func (fe *funcEmit) methodCall(e *ast.MethodCall) int32 {
	b := fe.buf
	t := typeOf(e)
	rslot := fe.expr(e.X)

	ci := fe.g.res.Classes.Lookup(typeOf(e.X).Class)
	slot := 0
	if ci != nil {
		if idx, ok := ci.MethodIdx[e.Name]; ok {
			slot = ci.Methods[idx].Slot
		}
	}

	area := fe.argArea(len(e.Args) + 1)
	b.MovLoadDisp(RAX, RBP, rslot)
	b.MovStoreDisp(RSP, 0, RAX)
	for i, arg := range e.Args {
		fe.expr(arg)
		b.MovStoreDisp(RSP, int32(8*(i+1)), RAX)
	}
	b.MovLoadDisp(RAX, RSP, 0)
	fe.noneCheck()
	b.MovLoadDisp(RAX, RAX, HeaderProtoOffset)
	b.CallIndirect(RAX, int32(ProtoSlotsOffset+SlotWidth*slot))
	fe.dropArgArea(area)
	return fe.finishRef(t)
}
