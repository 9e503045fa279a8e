package types

// SymbolKind discriminates what a name in a Scope refers to, per §3's
// symbol table entry ("local var, parameter, global, nonlocal binding,
// nested function, class, or imported builtin").
type SymbolKind int

// Symbol kinds.
const (
	SymLocal SymbolKind = iota
	SymParam
	SymGlobal
	SymNonlocal
	SymFunc
	SymClass
)

// Symbol is one entry of a Scope.
type Symbol struct {
	Name string
	Kind SymbolKind
	Type *Type // variable/parameter type, or the function's return type for SymFunc

	// Func holds the callable signature when Kind == SymFunc.
	Func *Signature

	// FuncSym is the object-file symbol a SymFunc/method resolves to:
	// the function's own name at module scope, or a `$`-prefixed,
	// nesting-qualified name for a nested function (§4.H's visible
	// symbol convention: synthetic names are `$`-prefixed).
	FuncSym string

	// Slot is the storage slot assigned by the code generator: a
	// frame-relative local slot, a stack-passed parameter slot, or a
	// global data-section slot, depending on Kind (§5/§6). Nothing sets
	// it: the code generator keeps its own frame and global layout, so it
	// stays zero.
	Slot int
}

// Scope is one level of ChocoPy's lexical scope chain: module-global,
// or a single (possibly nested) function/method body. Lookups walk
// Parent, matching how nested functions and methods see enclosing
// bindings in §3/§4.C.
type Scope struct {
	Parent   *Scope
	Names    map[string]*Symbol
	IsGlobal bool
	// Class is set when this scope is a method body, giving access to
	// the enclosing class's ClassInfo for `self` attribute resolution.
	Class *ClassInfo
}

// NewGlobalScope creates the module-level scope.
func NewGlobalScope() *Scope {
	return &Scope{Names: map[string]*Symbol{}, IsGlobal: true}
}

// NewChildScope creates a nested function/method scope.
func (s *Scope) NewChildScope() *Scope {
	return &Scope{Parent: s, Names: map[string]*Symbol{}}
}

// Declare adds a new local binding, failing if name is already bound in
// this scope (shadowing an outer scope's binding is allowed; redeclaring
// within the same scope is not, per §4.C).
func (s *Scope) Declare(sym *Symbol) error {
	if _, dup := s.Names[sym.Name]; dup {
		return errf("duplicate declaration of %q in this scope", sym.Name)
	}
	s.Names[sym.Name] = sym
	return nil
}

// Lookup searches this scope and its ancestors, returning the symbol and
// the scope that owns it.
func (s *Scope) Lookup(name string) (*Symbol, *Scope) {
	for sc := s; sc != nil; sc = sc.Parent {
		if sym, ok := sc.Names[name]; ok {
			return sym, sc
		}
	}
	return nil, nil
}

// LookupLocal searches only this scope, not its ancestors; used to check
// whether a `global`/`nonlocal` declaration shadows a same-scope local.
func (s *Scope) LookupLocal(name string) (*Symbol, bool) {
	sym, ok := s.Names[name]
	return sym, ok
}

// ResolveGlobal walks to the outermost (module) scope.
func (s *Scope) ResolveGlobal() *Scope {
	sc := s
	for sc.Parent != nil {
		sc = sc.Parent
	}
	return sc
}

// ResolveNonlocal searches enclosing scopes (excluding s itself and the
// global scope) for name, as `nonlocal` requires a binding in some
// strictly enclosing function, not the module scope (§4.C: "nonlocal
// must name a variable or parameter bound in an enclosing function,
// excluding the global scope").
func (s *Scope) ResolveNonlocal(name string) (*Symbol, *Scope) {
	for sc := s.Parent; sc != nil && !sc.IsGlobal; sc = sc.Parent {
		if sym, ok := sc.Names[name]; ok {
			return sym, sc
		}
	}
	return nil, nil
}
