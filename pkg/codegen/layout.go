package codegen

import (
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

// Object header and prototype-record layout constants, per §4.F.
const (
	HeaderProtoOffset = 0  // $proto, 8 bytes
	HeaderRefOffset   = 8  // $ref, 8 bytes
	HeaderSize        = 16 // $proto + $ref
	ArrayLenOffset    = HeaderSize // $len, 8 bytes, array-likes only
	ArrayDataOffset   = HeaderSize + 8

	ProtoSizeOffset  = 0 // 4-byte signed $size
	ProtoTagOffset   = 4 // 4-byte $tag
	ProtoSlotsOffset = 8 // 8-byte method slots starting with $dtor at slot 0
	SlotWidth        = 8
)

// ProtoSymbol, DtorSymbol and CtorSymbol name the runtime-visible
// symbols a class's layout contributes to the object file (§3/§4.F
// naming rule: synthetic symbols are prefixed `$`, constructors are
// named after the class itself).
func ProtoSymbol(class string) string { return "$" + class + "$proto" }
func DtorSymbol(class string) string  { return "$" + class + "$dtor" }
func CtorSymbol(class string) string  { return class }

// ClassLayout is the code generator's view of a types.ClassInfo: the
// concrete prototype record bytes plus the symbols its dtor/ctor will
// be emitted under.
type ClassLayout struct {
	Class  *types.ClassInfo
	Proto  string
	Dtor   string
	Ctor   string
	Slots  []string // method symbol per dispatch slot, slot 0 is Dtor
}

// BuildClassLayout derives a ClassLayout from a semantic ClassInfo.
func BuildClassLayout(ci *types.ClassInfo) *ClassLayout {
	cl := &ClassLayout{
		Class: ci,
		Proto: ProtoSymbol(ci.Name),
		Dtor:  DtorSymbol(ci.Name),
		Ctor:  CtorSymbol(ci.Name),
	}
	cl.Slots = make([]string, len(ci.Methods))
	for i, m := range ci.Methods {
		if i == 0 {
			cl.Slots[0] = cl.Dtor
			continue
		}
		cl.Slots[i] = m.FuncSym
	}
	return cl
}

// EmitPrototype writes a class's prototype record: $size, $tag, then one
// 8-byte slot per dispatch entry (§4.F). It is placed in .rodata by the
// caller; the slots are relocations against each method's symbol so the
// object-file writer resolves them once all functions have addresses.
func EmitPrototype(cl *ClassLayout) *Buffer {
	b := &Buffer{}
	size := int32(cl.Class.Size)
	if cl.Class.IsArrayLike {
		size = -elemSlotWidth(cl.Class.ElemType)
	}
	b.u32le(uint32(size))
	b.u32le(uint32(cl.Class.Tag))
	for _, sym := range cl.Slots {
		off := b.reserve64()
		b.addReloc(off, sym, Abs64, 0)
	}
	return b
}

func elemSlotWidth(t *types.Type) int32 {
	if t == nil {
		return 8
	}
	switch t.Kind {
	case types.KInt:
		return 4
	case types.KBool:
		return 1
	default:
		return 8
	}
}

// EmitDestructor synthesizes `cl`'s destructor: decrement every
// reference-typed attribute (driving further deallocation chains via
// the runtime's $release helper), then free the object itself (§4.F).
// Destructors use the platform C ABI, per §4.E's exception list, so
// self arrives in the first argument register.
func EmitDestructor(cl *ClassLayout) *Buffer {
	b := &Buffer{}
	b.Push(RBP)
	b.MovRR(RBP, RSP)
	b.Push(RBX)
	b.SubImm32(RSP, 8) // realign for the calls below
	b.MovRR(RBX, RDI)
	for _, attr := range cl.Class.Attrs {
		if !types.IsReferenceType(attr.Type) {
			continue
		}
		b.MovLoadDisp(RDI, RBX, int32(HeaderSize+attr.Offset))
		b.CallReloc(symRelease)
	}
	b.MovRR(RDI, RBX)
	b.CallReloc(symFreeObj)
	b.AddImm32(RSP, 8)
	b.Pop(RBX)
	b.Pop(RBP)
	b.Ret()
	return b
}

// EmitListDestructor synthesizes the destructor shared by every `[T]`
// prototype with reference-typed elements: release each element in
// turn, then free the array object. Value-element lists skip straight
// to the free.
func EmitListDestructor(cl *ClassLayout) *Buffer {
	b := &Buffer{}
	labels := map[string]int64{}
	b.Push(RBP)
	b.MovRR(RBP, RSP)
	b.Push(RBX)
	b.Push(R12)
	b.MovRR(RBX, RDI)
	if types.IsReferenceType(cl.Class.ElemType) {
		b.MovImm32(R12, 0)
		labels[cl.Dtor+"$loop"] = b.Len()
		b.MovLoadDisp(RAX, RBX, ArrayLenOffset)
		b.CmpRR(R12, RAX)
		b.JccReloc(CondGE, cl.Dtor+"$done")
		b.MovLoadIndex8(RDI, RBX, R12, ArrayDataOffset)
		b.CallReloc(symRelease)
		b.AddImm32(R12, 1)
		b.JmpReloc(cl.Dtor + "$loop")
		labels[cl.Dtor+"$done"] = b.Len()
	}
	b.MovRR(RDI, RBX)
	b.CallReloc(symFreeObj)
	b.Pop(R12)
	b.Pop(RBX)
	b.Pop(RBP)
	b.Ret()
	b.ResolveLocalLabels(labels)
	return b
}

// EmitConstructor synthesizes the class's constructor symbol: allocate
// against the class prototype, assign each attribute's literal default
// one at a time (§4.F: "no memcpy from a template"), then dispatch
// `__init__` through slot 1. Constructors are user-callable, so they
// follow the ChocoPy internal ABI: no incoming arguments, result in
// RAX.
func EmitConstructor(cl *ClassLayout, g *Generator) *Buffer {
	b := &Buffer{}
	b.Push(RBP)
	b.MovRR(RBP, RSP)
	b.Push(RBX)
	b.SubImm32(RSP, 8) // realign for the calls below

	b.LeaRIPReloc(RDI, cl.Proto)
	b.MovImm32(RSI, int32(cl.Class.Size))
	b.CallReloc(symAllocObj)
	b.MovRR(RBX, RAX)

	for _, attr := range cl.Class.Attrs {
		if le, ok := attr.Literal.(*ast.ListExpr); ok && len(le.Elems) == 0 && attr.Type.Kind == types.KList {
			// A fresh empty list transfers its allocation count to the
			// attribute slot; $alloc_obj zeroed the old value.
			proto := g.res.Classes.ListProto(attr.Type.Elem)
			b.LeaRIPReloc(RDI, ProtoSymbol(proto.Name))
			b.MovImm32(RSI, 0)
			b.CallReloc(symNewList)
			b.MovStoreDisp(RBX, int32(HeaderSize+attr.Offset), RAX)
			continue
		}
		if !g.emitAttrDefault(b, attr) {
			continue // None default, slot already zeroed by $alloc_obj
		}
		if types.IsReferenceType(attr.Type) {
			b.MovRR(RDI, RBX)
			b.MovRR(RSI, RAX)
			b.MovImm32(RDX, int32(HeaderSize+attr.Offset))
			b.CallReloc(symStoreAttr)
			continue
		}
		if attr.Type.Kind == types.KBool {
			b.MovStore8(RBX, int32(HeaderSize+attr.Offset), RAX)
		} else {
			b.MovStore32(RBX, int32(HeaderSize+attr.Offset), RAX)
		}
	}

	// Push self as the sole stack argument and call __init__ through
	// the dispatch table; every class inherits at least $object_init.
	b.SubImm32(RSP, 16)
	b.MovStoreDisp(RSP, 0, RBX)
	b.MovLoadDisp(RAX, RBX, HeaderProtoOffset)
	b.CallIndirect(RAX, ProtoSlotsOffset+1*SlotWidth)
	b.AddImm32(RSP, 16)

	b.MovRR(RAX, RBX)
	b.AddImm32(RSP, 8)
	b.Pop(RBX)
	b.Pop(RBP)
	b.Ret()
	return b
}
