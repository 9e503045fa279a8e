// Package codegen lowers a type-annotated ChocoPy AST into x86-64
// machine code, following §4.E/§4.F: a single pass per function over
// the typed tree, a hand-rolled caller-preserved register scheme, and
// object layout/prototype synthesis for the reference-counted runtime
// model.
package codegen

import (
	"fmt"
	"sort"

	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/debuginfo"
	"github.com/chocopy-lang/chocopy/pkg/sema"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

// GlobalVar describes one module-global variable's `.bss` slot.
type GlobalVar struct {
	Symbol string
	Size   int32
}

// Module is the code generator's output: every emitted function body,
// every synthesized prototype record, string-literal objects, the
// global `.bss` layout, and per-function debug records. pkg/compiler
// turns a Module into a concrete ELF/PE/Mach-O image.
type Module struct {
	Functions map[string]*Buffer
	FuncOrder []string
	// Prototypes land in .rodata; Strings are full static str objects
	// ($proto reloc, permanent $ref of 1, $len, ASCII bytes) and land
	// in .data, since their reference counts are touched at run time.
	Prototypes map[string]*Buffer
	Strings    map[string]*Buffer
	StrOrder   []string
	Globals    []GlobalVar
	Debug      map[string]*debuginfo.Function
}

// Generator walks a semantically analyzed program and lowers it into a
// Module.
type Generator struct {
	res      *sema.Result
	module   *Module
	strCount int
	labelSeq int
}

// NewGenerator creates a Generator bound to the result of semantic
// analysis; res must come from a program with no reported errors.
func NewGenerator(res *sema.Result) *Generator {
	return &Generator{res: res}
}

// MethodSymbol names a method's object-file symbol (§4.H's synthetic
// `$`-prefixed naming convention).
func MethodSymbol(class, name string) string { return "$" + class + "$" + name }

// Generate lowers prog into a complete Module. Emission order is fixed
// (classes by name, then declared functions in source order, then
// $chocopy_main, then the array-like prototypes synthesized along the
// way) so that two invocations over the same input produce identical
// bytes (§8, determinism).
func (g *Generator) Generate(prog *ast.Program) *Module {
	g.module = &Module{
		Functions:  map[string]*Buffer{},
		Prototypes: map[string]*Buffer{},
		Strings:    map[string]*Buffer{},
		Debug:      map[string]*debuginfo.Function{},
	}

	var classNames []string
	for name := range g.res.Classes.All() {
		if !isRuntimeBuiltin(name) {
			classNames = append(classNames, name)
		}
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		g.emitClass(g.res.Classes.Lookup(name))
	}

	var globalNames []string
	for name, sym := range g.res.Global.Names {
		if sym.Kind == types.SymGlobal {
			globalNames = append(globalNames, name)
		}
	}
	sort.Strings(globalNames)
	for _, name := range globalNames {
		g.module.Globals = append(g.module.Globals, GlobalVar{Symbol: name, Size: 8})
	}

	for _, d := range prog.Defs {
		switch d := d.(type) {
		case *ast.ClassDecl:
			ci := g.res.Classes.Lookup(d.Name)
			if ci == nil {
				continue
			}
			for _, m := range d.Members {
				if fd, ok := m.(*ast.FuncDecl); ok {
					g.emitFunc(fd, MethodSymbol(ci.Name, fd.Name), nil)
				}
			}
		case *ast.FuncDecl:
			if sym, _ := g.res.Global.Lookup(d.Name); sym != nil {
				g.emitFunc(d, sym.FuncSym, nil)
			}
		}
	}

	g.emitMain(prog)

	// Array-like prototypes are synthesized lazily while the bodies
	// above are lowered, so they are collected last.
	for _, ci := range g.res.Classes.ListProtos() {
		g.emitListProto(ci)
	}
	return g.module
}

func isRuntimeBuiltin(name string) bool {
	switch name {
	case types.ObjectClass, types.IntClass, types.BoolClass, types.StrClass:
		return true
	default:
		return false
	}
}

func (g *Generator) addFunc(symbol string, b *Buffer) {
	g.module.Functions[symbol] = b
	g.module.FuncOrder = append(g.module.FuncOrder, symbol)
}

func (g *Generator) emitClass(ci *types.ClassInfo) {
	cl := BuildClassLayout(ci)
	g.module.Prototypes[cl.Proto] = EmitPrototype(cl)
	g.addFunc(cl.Dtor, EmitDestructor(cl))
	g.addFunc(cl.Ctor, EmitConstructor(cl, g))
}

func (g *Generator) emitListProto(ci *types.ClassInfo) {
	cl := BuildClassLayout(ci)
	g.module.Prototypes[cl.Proto] = EmitPrototype(cl)
	g.addFunc(cl.Dtor, EmitListDestructor(cl))
}

// emitAttrDefault places an attribute's literal default in RAX for the
// synthesized constructor (§4.F: literal defaults assigned one by one).
// Returns false for None defaults, which keep the zeroed bytes
// $alloc_obj hands back.
func (g *Generator) emitAttrDefault(b *Buffer, attr *types.Attribute) bool {
	switch lit := attr.Literal.(type) {
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
		b.LeaRIPReloc(RAX, g.intern(lit.Value))
		return true
	case *ast.Unary:
		if il, ok := lit.X.(*ast.IntLit); ok && lit.Op == ast.UnaryNeg {
			b.MovAbs(RAX, uint64(-il.Value))
			return true
		}
		return false
	default:
		return false
	}
}

// emitFunc lowers one function or method body; parent is the emitter of
// the lexically enclosing function for nested functions (§4.E: static
// link in R10), nil for top-level functions and methods.
func (g *Generator) emitFunc(fd *ast.FuncDecl, symbol string, parent *funcEmit) {
	scope := g.res.FuncScopes[fd]
	if scope == nil || symbol == "" {
		return
	}
	frame := NewFrame(parent != nil)
	for i, p := range fd.Params {
		frame.BindParam(p.Name, i)
	}
	for _, d := range fd.Decls {
		if vd, ok := d.(*ast.VarDecl); ok {
			frame.AllocLocal(vd.Name)
		}
	}

	dbg := &debuginfo.Function{
		Symbol: symbol,
		Name:   fd.Name,
		Line:   fd.Pos().StartLine,
	}
	fe := &funcEmit{
		g:        g,
		scope:    scope,
		frame:    frame,
		buf:      &Buffer{},
		retLabel: g.label("ret"),
		labels:   map[string]int64{},
		debug:    dbg,
	}
	if parent != nil {
		fe.encl = append(append([]*funcEmit(nil), parent.encl...), parent)
	}
	fe.prologue()

	var refLocals []int32
	for _, d := range fd.Decls {
		if vd, ok := d.(*ast.VarDecl); ok {
			fe.initLocal(vd)
			if sym, _ := scope.LookupLocal(vd.Name); sym != nil && types.IsReferenceType(sym.Type) {
				if off, _, ok := frame.Offset(vd.Name); ok {
					refLocals = append(refLocals, off)
				}
			}
		}
	}

	for _, d := range fd.Decls {
		if nfd, ok := d.(*ast.FuncDecl); ok {
			if sym, _ := scope.LookupLocal(nfd.Name); sym != nil {
				g.emitFunc(nfd, sym.FuncSym, fe)
			}
		}
	}

	for _, s := range fd.Stmts {
		fe.stmt(s)
	}
	fe.epilogue(refLocals)
	g.recordDebugVars(dbg, fd, scope, frame)
	dbg.CodeLen = fe.buf.Len()
	g.addFunc(symbol, fe.buf)
	g.module.Debug[symbol] = dbg
}

func (g *Generator) recordDebugVars(dbg *debuginfo.Function, fd *ast.FuncDecl, scope *types.Scope, frame *Frame) {
	for _, p := range fd.Params {
		if off, _, ok := frame.Offset(p.Name); ok {
			sym, _ := scope.LookupLocal(p.Name)
			dbg.Params = append(dbg.Params, debuginfo.Var{
				Name: p.Name, Type: symTypeName(sym), FrameOffset: off, IsParam: true,
			})
		}
	}
	for _, d := range fd.Decls {
		vd, ok := d.(*ast.VarDecl)
		if !ok {
			continue
		}
		if off, _, ok := frame.Offset(vd.Name); ok {
			sym, _ := scope.LookupLocal(vd.Name)
			dbg.Locals = append(dbg.Locals, debuginfo.Var{
				Name: vd.Name, Type: symTypeName(sym), FrameOffset: off,
			})
		}
	}
}

func symTypeName(sym *types.Symbol) string {
	if sym == nil || sym.Type == nil {
		return types.ObjectClass
	}
	return sym.Type.String()
}

// emitMain lowers the program's global-variable initializers and
// top-level statements into `$chocopy_main`, the platform-C-ABI entry
// point §4.E exempts from the ChocoPy internal calling convention (the
// two conventions agree on entry alignment and the RAX result, and the
// entry point takes no arguments, so the same prologue serves).
func (g *Generator) emitMain(prog *ast.Program) {
	dbg := &debuginfo.Function{Symbol: symChocopyMain, Name: symChocopyMain, Line: 1}
	fe := &funcEmit{
		g:        g,
		scope:    g.res.Global,
		frame:    NewFrame(false),
		buf:      &Buffer{},
		retLabel: g.label("ret"),
		labels:   map[string]int64{},
		debug:    dbg,
	}
	fe.prologue()
	for _, d := range prog.Defs {
		if vd, ok := d.(*ast.VarDecl); ok {
			g.emitGlobalInit(fe, vd)
		}
	}
	for _, s := range prog.Stmts {
		fe.stmt(s)
	}
	// Globals stay live through process exit; the runtime walks them as
	// the root set for its leak report (§7), so nothing is released
	// here.
	fe.epilogue(nil)
	dbg.CodeLen = fe.buf.Len()
	g.addFunc(symChocopyMain, fe.buf)
	g.module.Debug[symChocopyMain] = dbg
}

// emitGlobalInit stores a global's declared literal into its `.bss`
// slot. None defaults keep the zero bytes the loader provides.
func (g *Generator) emitGlobalInit(fe *funcEmit, vd *ast.VarDecl) {
	sym, _ := g.res.Global.LookupLocal(vd.Name)
	if sym == nil || sym.Kind != types.SymGlobal {
		return
	}
	if emitInitValue(fe, sym.Type, vd.Literal) {
		fe.buf.LeaRIPReloc(R11, vd.Name)
		fe.buf.MovStoreDisp(R11, 0, RAX)
	}
}

// intern records s as a static str object (§4.F layout: $proto, $ref,
// $len, then ASCII bytes, not null-terminated) and returns its symbol.
// The object's baked-in reference count of 1 is never dropped, so
// run-time retain/release traffic on a literal can never free it.
func (g *Generator) intern(s string) string {
	sym := fmt.Sprintf("$str$%d", g.strCount)
	g.strCount++
	b := &Buffer{}
	off := b.reserve64()
	b.addReloc(off, ProtoSymbol(types.StrClass), Abs64, 0)
	b.u64le(1)
	b.u64le(uint64(len(s)))
	b.bytesRaw([]byte(s)...)
	g.module.Strings[sym] = b
	g.module.StrOrder = append(g.module.StrOrder, sym)
	return sym
}

// label allocates a unique local jump-target symbol, scoped to this
// Generator's lifetime (one compilation unit).
func (g *Generator) label(tag string) string {
	sym := fmt.Sprintf("$L%d$%s", g.labelSeq, tag)
	g.labelSeq++
	return sym
}
