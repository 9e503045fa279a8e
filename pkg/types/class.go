package types

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Attribute describes one attribute slot of a class, in declaration
// order, per §3 ("attr_name → (offset, type, initial literal)").
type Attribute struct {
	Name    string
	Offset  int // byte offset within the object, past the 16-byte header
	Type    *Type
	Literal any // the untyped literal AST node used to initialize it
}

// Method describes one virtual-dispatch slot, per §3 ("slot_index →
// (func_symbol, signature)").
type Method struct {
	Slot      int
	FuncSym   string
	Signature *Signature
}

// Signature is a callable's parameter/return types, used to validate
// override compatibility (§4.C: "overridden methods have identical
// signature").
type Signature struct {
	Params []*Type
	Return *Type
}

// SameSignature reports whether two signatures are identical, which
// ChocoPy requires of an overriding method (§4.C).
func SameSignature(a, b *Signature) bool {
	if len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if !Equal(a.Params[i], b.Params[i]) {
			return false
		}
	}
	return Equal(a.Return, b.Return)
}

// ClassInfo is the full per-class record described in §3: name, parent,
// attribute layout, dispatch table, object size and type tag.
type ClassInfo struct {
	Name       string
	Parent     string
	Attrs      []*Attribute
	AttrIndex  map[string]int // name -> index into Attrs
	Methods    []*Method      // slot 0 = dtor, slot 1 = __init__, then user methods
	MethodIdx  map[string]int // name -> slot
	Size       int            // object attribute bytes, excluding the 16-byte header
	Tag        int32
	IsArrayLike bool // true for "str" and synthesized "[T]" prototypes
	ElemType   *Type // valid when IsArrayLike is a list prototype
}

// ClassTable is the whole-program class hierarchy, built by the
// semantic analyzer's Pass 1 (§4.C) and consulted by Pass 2 and the code
// generator.
type ClassTable struct {
	classes map[string]*ClassInfo
	// listProtos memoizes synthesized [T] prototypes keyed by element
	// type (§4.E: "synthesized on first use and keyed by element type"),
	// bounded so a program with many distinct element types cannot grow
	// this map without limit during a single compile.
	listProtos *lru.Cache
}

const listProtoCacheSize = 256

// NewClassTable creates a class table pre-populated with the builtin
// classes object/int/bool/str.
func NewClassTable() *ClassTable {
	ct := &ClassTable{classes: map[string]*ClassInfo{}}
	cache, _ := lru.New(listProtoCacheSize)
	ct.listProtos = cache

	ct.classes[ObjectClass] = &ClassInfo{
		Name: ObjectClass, AttrIndex: map[string]int{}, MethodIdx: map[string]int{"__init__": 1},
		Methods: []*Method{{Slot: 0, FuncSym: "$object_dtor"}, {Slot: 1, FuncSym: "$object_init"}},
		Tag:     TagObject,
	}
	ct.classes[IntClass] = &ClassInfo{Name: IntClass, Parent: ObjectClass, AttrIndex: map[string]int{}, MethodIdx: map[string]int{}, Tag: TagInt, Size: 4}
	ct.classes[BoolClass] = &ClassInfo{Name: BoolClass, Parent: ObjectClass, AttrIndex: map[string]int{}, MethodIdx: map[string]int{}, Tag: TagBool, Size: 1}
	ct.classes[StrClass] = &ClassInfo{Name: StrClass, Parent: ObjectClass, AttrIndex: map[string]int{}, MethodIdx: map[string]int{}, Tag: TagStr, IsArrayLike: true, Size: -1}
	return ct
}

// Lookup returns the ClassInfo for name, or nil.
func (ct *ClassTable) Lookup(name string) *ClassInfo { return ct.classes[name] }

// All returns every user-visible declared class, keyed by name. The
// caller must not mutate the returned map.
func (ct *ClassTable) All() map[string]*ClassInfo { return ct.classes }

// ListProtos returns every `[T]` prototype synthesized so far, for the
// code generator to emit alongside the declared classes.
func (ct *ClassTable) ListProtos() []*ClassInfo {
	var out []*ClassInfo
	for _, k := range ct.listProtos.Keys() {
		if v, ok := ct.listProtos.Peek(k); ok {
			out = append(out, v.(*ClassInfo))
		}
	}
	return out
}

// Declare registers a new (empty) class, returning an error if it is
// already declared or its parent is not yet known (§3 invariant: "parent
// must be defined before child").
func (ct *ClassTable) Declare(name, parent string) (*ClassInfo, error) {
	if _, ok := ct.classes[name]; ok {
		return nil, errf("class %q is already declared", name)
	}
	p, ok := ct.classes[parent]
	if !ok {
		return nil, errf("base class %q is not defined", parent)
	}
	if parent == IntClass || parent == BoolClass || parent == StrClass {
		return nil, errf("cannot extend builtin value type %q", parent)
	}
	ci := &ClassInfo{
		Name:      name,
		Parent:    parent,
		AttrIndex: map[string]int{},
		MethodIdx: map[string]int{},
		Tag:       TagUser,
	}
	// Attribute offsets of a subclass extend, never reorder, the
	// parent's layout (§3 invariant).
	ci.Attrs = append(ci.Attrs, p.Attrs...)
	for k, v := range p.AttrIndex {
		ci.AttrIndex[k] = v
	}
	ci.Size = p.Size
	// Dispatch slot numbering is stable along inheritance chains (§3
	// invariant): copy the parent's slot array; overrides replace the
	// pointer at that slot later, inherited methods keep their index.
	ci.Methods = append([]*Method(nil), p.Methods...)
	for k, v := range p.MethodIdx {
		ci.MethodIdx[k] = v
	}
	ct.classes[name] = ci
	return ci, nil
}

// AddAttribute appends a new attribute to ci, extending its layout.
func (ct *ClassTable) AddAttribute(ci *ClassInfo, name string, t *Type, literal any) error {
	if _, dup := ci.AttrIndex[name]; dup {
		return errf("duplicate attribute %q in class %q", name, ci.Name)
	}
	if _, dup := ci.MethodIdx[name]; dup {
		return errf("%q is already a method of class %q", name, ci.Name)
	}
	size := attrSize(t)
	off := ci.Size
	ci.AttrIndex[name] = len(ci.Attrs)
	ci.Attrs = append(ci.Attrs, &Attribute{Name: name, Offset: off, Type: t, Literal: literal})
	ci.Size += size
	return nil
}

// attrSize returns the packed in-object size of a value: 4 bytes for
// int, 1 for bool, 8 (a pointer) for any reference type, per §4.E ("int
// and bool are ... packed (4 / 1 byte) inside objects").
func attrSize(t *Type) int {
	switch t.Kind {
	case KInt:
		return 4
	case KBool:
		return 1
	default:
		return 8
	}
}

// AddMethod installs a method in ci's dispatch table: at the parent's
// existing slot if name overrides an inherited method (keeping slot
// identity stable, §3/§9), or at a new slot otherwise.
func (ct *ClassTable) AddMethod(ci *ClassInfo, name, funcSym string, sig *Signature) error {
	if idx, ok := ci.MethodIdx[name]; ok {
		existing := ci.Methods[idx]
		if existing.Signature != nil && !SameSignature(existing.Signature, sig) {
			return errf("method %q overrides %q with an incompatible signature", name, ci.Name)
		}
		m := &Method{Slot: existing.Slot, FuncSym: funcSym, Signature: sig}
		ci.Methods[idx] = m
		return nil
	}
	if _, dup := ci.AttrIndex[name]; dup {
		return errf("%q is already an attribute of class %q", name, ci.Name)
	}
	slot := len(ci.Methods)
	ci.Methods = append(ci.Methods, &Method{Slot: slot, FuncSym: funcSym, Signature: sig})
	ci.MethodIdx[name] = len(ci.Methods) - 1
	return nil
}

// ResolveMethod finds a method by name, searching ci and its ancestors.
func (ct *ClassTable) ResolveMethod(ci *ClassInfo, name string) (*Method, bool) {
	idx, ok := ci.MethodIdx[name]
	if !ok {
		return nil, false
	}
	return ci.Methods[idx], true
}

// ResolveAttribute finds an attribute by name, searching ci and its
// ancestors (attributes are inherited via the flattened Attrs/AttrIndex
// built at Declare time, so no walk up the chain is needed here).
func (ct *ClassTable) ResolveAttribute(ci *ClassInfo, name string) (*Attribute, bool) {
	idx, ok := ci.AttrIndex[name]
	if !ok {
		return nil, false
	}
	return ci.Attrs[idx], true
}

// IsSubclass reports whether sub is sub == sup or a descendant of sup in
// the class hierarchy.
func (ct *ClassTable) IsSubclass(sub, sup string) bool {
	for sub != "" {
		if sub == sup {
			return true
		}
		ci, ok := ct.classes[sub]
		if !ok {
			return false
		}
		sub = ci.Parent
	}
	return false
}

// ListProto returns the (possibly newly synthesized) prototype ClassInfo
// for the array-like type `[elem]`, memoized by element type (§4.E, §4.F).
func (ct *ClassTable) ListProto(elem *Type) *ClassInfo {
	key := elem.String()
	if v, ok := ct.listProtos.Get(key); ok {
		return v.(*ClassInfo)
	}
	ci := &ClassInfo{
		Name:        "[" + elem.String() + "]",
		Parent:      ObjectClass,
		AttrIndex:   map[string]int{},
		MethodIdx:   map[string]int{},
		Tag:         TagUser,
		IsArrayLike: true,
		ElemType:    elem,
		Size:        -elemWidth(elem),
	}
	ct.listProtos.Add(key, ci)
	return ci
}

func elemWidth(t *Type) int {
	switch t.Kind {
	case KInt:
		return 4
	case KBool:
		return 1
	default:
		return 8
	}
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
