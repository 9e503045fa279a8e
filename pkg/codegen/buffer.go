package codegen

import "encoding/binary"

// Buffer is a growable byte buffer with symbolic-relocation tracking,
// one per emitted function body or data section: a thin sequential
// writer offering fixed-width primitives. It carries no sticky error —
// code emission cannot fail once instruction selection has decided what
// to emit — so the only bookkeeping beyond the bytes themselves is the
// relocation list.
type Buffer struct {
	bytes  []byte
	relocs []Reloc
}

// Len returns the buffer's current length, i.e. the offset the next
// emitted byte will land at.
func (b *Buffer) Len() int64 { return int64(len(b.bytes)) }

// Bytes returns the accumulated bytes.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Relocs returns the relocations recorded against this buffer.
func (b *Buffer) Relocs() []Reloc { return b.relocs }

func (b *Buffer) u8(v byte) { b.bytes = append(b.bytes, v) }

func (b *Buffer) bytesRaw(bs ...byte) { b.bytes = append(b.bytes, bs...) }

func (b *Buffer) u32le(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.bytes = append(b.bytes, buf[:]...)
}

func (b *Buffer) u64le(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.bytes = append(b.bytes, buf[:]...)
}

// reserve32/reserve64 append a zero placeholder of the given width and
// return the offset it starts at, for a relocation to later patch.
func (b *Buffer) reserve32() int64 {
	off := b.Len()
	b.u32le(0)
	return off
}

func (b *Buffer) reserve64() int64 {
	off := b.Len()
	b.u64le(0)
	return off
}

// patch32 overwrites a previously emitted 32-bit placeholder, used for
// the prologue's frame-size SUB whose operand is only known once the
// whole body has allocated its temporaries.
func (b *Buffer) patch32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(b.bytes[off:off+4], v)
}

// addReloc records a relocation at off against symbol.
func (b *Buffer) addReloc(off int64, symbol string, kind RelocKind, addend int64) {
	b.relocs = append(b.relocs, Reloc{Symbol: symbol, Offset: off, Kind: kind, Addend: addend})
}

// ResolveLocalLabels patches every pending Rel32 relocation whose symbol
// names a local control-flow label (an if/while/for branch target, not
// a cross-function call) directly into the instruction stream and
// drops it from the relocation list. What remains afterward are only
// the relocations pkg/objfile must still resolve against other
// functions, globals, and runtime symbols.
func (b *Buffer) ResolveLocalLabels(labels map[string]int64) {
	kept := b.relocs[:0]
	for _, r := range b.relocs {
		target, ok := labels[r.Symbol]
		if !ok || r.Kind != Rel32 {
			kept = append(kept, r)
			continue
		}
		disp := int32(target - (r.Offset + 4) + r.Addend)
		binary.LittleEndian.PutUint32(b.bytes[r.Offset:r.Offset+4], uint32(disp))
	}
	b.relocs = kept
}
