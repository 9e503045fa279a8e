package codegen

// RelocKind discriminates the three relocation shapes the object file
// writers understand, kept architecture/format-neutral in pkg/codegen
// and translated into ELF/PE/Mach-O relocation entries only by
// pkg/objfile (§4.E's "resolved encodings").
type RelocKind int

// Relocation kinds.
const (
	// Abs64 is a full 64-bit absolute address, used for data-section
	// pointers (e.g. a global variable slot holding a $proto pointer).
	Abs64 RelocKind = iota
	// Abs32 is a 32-bit absolute address; unused on position-independent
	// targets but offered for PE/COFF's absolute-relocation style.
	Abs32
	// Rel32 is a 32-bit PC-relative displacement, used for CALL/JMP/Jcc
	// targets and RIP-relative LEA operands.
	Rel32
)

// Reloc records one symbolic reference pending resolution by the
// object-file writer: at byte Offset within the section, Kind-shaped
// bytes should be patched to refer to Symbol (plus Addend, folded into
// the patched value).
type Reloc struct {
	Symbol string
	Offset int64
	Kind   RelocKind
	Addend int64
}
