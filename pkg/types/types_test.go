package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHierarchy(t *testing.T) *ClassTable {
	t.Helper()
	ct := NewClassTable()
	a, err := ct.Declare("A", ObjectClass)
	require.NoError(t, err)
	require.NoError(t, ct.AddAttribute(a, "x", Int, nil))
	require.NoError(t, ct.AddMethod(a, "f", "$A$f", &Signature{Return: Int}))
	b, err := ct.Declare("B", "A")
	require.NoError(t, err)
	require.NoError(t, ct.AddMethod(b, "f", "$B$f", &Signature{Return: Int}))
	require.NoError(t, ct.AddMethod(b, "g", "$B$g", &Signature{Return: Bool}))
	c, err := ct.Declare("C", ObjectClass)
	require.NoError(t, err)
	require.NoError(t, ct.AddAttribute(c, "flag", Bool, nil))
	return ct
}

func TestJoinRules(t *testing.T) {
	ct := testHierarchy(t)
	cases := []struct {
		a, b *Type
		want *Type
	}{
		{Int, Int, Int},
		{Int, Bool, Object},
		{Int, Str, Object},
		{NoneType, Class("A"), Class("A")},
		{Class("A"), NoneType, Class("A")},
		{NoneType, Int, Object},
		{EmptyType, Int, Int}, // <Empty> is the join bottom
		{Class("B"), Class("A"), Class("A")},
		{Class("B"), Class("C"), Object},
		{List(Int), List(Int), List(Int)},
		{List(Class("B")), List(Class("A")), Object}, // lists are invariant
		{List(Int), Class("A"), Object},
		{List(EmptyType), List(Int), List(Int)},
		{NoneType, List(Int), List(Int)},
		{Str, Class("A"), Object},
	}
	for _, tc := range cases {
		got := Join(ct, tc.a, tc.b)
		assert.True(t, Equal(tc.want, got), "join(%s, %s) = %s, want %s", tc.a, tc.b, got, tc.want)
	}
}

func TestJoinIsCommutative(t *testing.T) {
	ct := testHierarchy(t)
	all := []*Type{Int, Bool, Str, NoneType, EmptyType, Object, Class("A"), Class("B"), Class("C"), List(Int), List(Class("A"))}
	for _, a := range all {
		for _, b := range all {
			x := Join(ct, a, b)
			y := Join(ct, b, a)
			assert.True(t, Equal(x, y), "join(%s, %s) = %s vs %s", a, b, x, y)
		}
	}
}

func TestAssignability(t *testing.T) {
	ct := testHierarchy(t)
	cases := []struct {
		dst, src *Type
		want     bool
	}{
		{Int, Int, true},
		{Int, Bool, false},
		{Class("A"), NoneType, true},
		{Int, NoneType, false},
		{Class("A"), Class("B"), true},
		{Class("B"), Class("A"), false},
		{Object, Class("B"), true},
		{Object, NoneType, true},
		{List(Int), List(EmptyType), true},
		{List(Int), NoneType, true},
		{List(Int), List(Bool), false},
		{Str, NoneType, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsAssignable(ct, tc.dst, tc.src), "%s <- %s", tc.dst, tc.src)
	}
}

// Dispatch slot stability along the inheritance chain: a method keeps
// the slot of the ancestor that introduced it, and an override replaces
// only the pointer.
func TestDispatchSlotStability(t *testing.T) {
	ct := testHierarchy(t)
	a, b := ct.Lookup("A"), ct.Lookup("B")

	require.Equal(t, 0, a.Methods[0].Slot)
	require.Equal(t, "__init__", methodNameAt(a, 1))
	fSlotA, ok := a.MethodIdx["f"]
	require.True(t, ok)
	fSlotB, ok := b.MethodIdx["f"]
	require.True(t, ok)
	assert.Equal(t, fSlotA, fSlotB)
	assert.Equal(t, "$A$f", a.Methods[fSlotA].FuncSym)
	assert.Equal(t, "$B$f", b.Methods[fSlotB].FuncSym)

	gSlot, ok := b.MethodIdx["g"]
	require.True(t, ok)
	assert.Greater(t, gSlot, fSlotB)
}

func methodNameAt(ci *ClassInfo, slot int) string {
	for name, idx := range ci.MethodIdx {
		if idx == slot {
			return name
		}
	}
	return ""
}

// Attribute offsets of a subclass extend, never reorder, the parent's
// layout; int packs to 4 bytes, bool to 1, references to 8.
func TestAttributeLayout(t *testing.T) {
	ct := NewClassTable()
	p, err := ct.Declare("P", ObjectClass)
	require.NoError(t, err)
	require.NoError(t, ct.AddAttribute(p, "i", Int, nil))
	require.NoError(t, ct.AddAttribute(p, "b", Bool, nil))
	require.NoError(t, ct.AddAttribute(p, "s", Str, nil))
	assert.Equal(t, 0, p.Attrs[0].Offset)
	assert.Equal(t, 4, p.Attrs[1].Offset)
	assert.Equal(t, 5, p.Attrs[2].Offset)
	assert.Equal(t, 13, p.Size)

	q, err := ct.Declare("Q", "P")
	require.NoError(t, err)
	require.NoError(t, ct.AddAttribute(q, "extra", Int, nil))
	for i, attr := range p.Attrs {
		assert.Equal(t, attr.Offset, q.Attrs[i].Offset, "inherited attr %s moved", attr.Name)
	}
	assert.Equal(t, 13, q.Attrs[3].Offset)
}

func TestClassTableValidation(t *testing.T) {
	ct := NewClassTable()
	_, err := ct.Declare("A", ObjectClass)
	require.NoError(t, err)
	_, err = ct.Declare("A", ObjectClass)
	assert.Error(t, err)
	_, err = ct.Declare("B", "missing")
	assert.Error(t, err)
	_, err = ct.Declare("C", IntClass)
	assert.Error(t, err)

	a := ct.Lookup("A")
	require.NoError(t, ct.AddMethod(a, "m", "$A$m", &Signature{Params: []*Type{Int}, Return: Int}))
	b, err := ct.Declare("D", "A")
	require.NoError(t, err)
	err = ct.AddMethod(b, "m", "$D$m", &Signature{Params: []*Type{Str}, Return: Int})
	assert.Error(t, err, "override with different signature must be rejected")
}

func TestListProtoMemoized(t *testing.T) {
	ct := NewClassTable()
	p1 := ct.ListProto(Int)
	p2 := ct.ListProto(Int)
	assert.Same(t, p1, p2)
	assert.True(t, p1.IsArrayLike)
	assert.Equal(t, -4, p1.Size, "int elements pack to 4 bytes")
	p3 := ct.ListProto(Str)
	assert.Equal(t, -8, p3.Size)
	assert.Len(t, ct.ListProtos(), 2)
}

func TestScopeChain(t *testing.T) {
	g := NewGlobalScope()
	require.NoError(t, g.Declare(&Symbol{Name: "x", Kind: SymGlobal, Type: Int}))
	f := g.NewChildScope()
	require.NoError(t, f.Declare(&Symbol{Name: "y", Kind: SymLocal, Type: Str}))
	inner := f.NewChildScope()

	sym, owner := inner.Lookup("y")
	require.NotNil(t, sym)
	assert.Equal(t, f, owner)

	sym, _ = inner.ResolveNonlocal("y")
	assert.NotNil(t, sym)
	sym, _ = inner.ResolveNonlocal("x")
	assert.Nil(t, sym, "nonlocal must not resolve to the global scope")

	assert.Error(t, f.Declare(&Symbol{Name: "y", Kind: SymLocal}))
}
