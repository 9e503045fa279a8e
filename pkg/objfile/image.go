// Package objfile packages a code generator Module into a concrete
// object-file image and writes it out as ELF, PE/COFF, or Mach-O
// (§4.G). The Image type is format-neutral: it holds sections, symbols
// and relocations exactly as Design Notes' "Relocations" entry
// prescribes ("Keep format-independent relocation records ... and
// translate at file-writing time"); only the three encoders in this
// package know the layout of an actual container format.
package objfile

import "github.com/google/uuid"

// SectionKind discriminates the handful of section roles the ChocoPy
// object-file contract needs (§4.G: ".text", ".data", ".rodata", ".bss",
// plus debug sections carried as Debug-kind).
type SectionKind int

// Section kinds.
const (
	SectText SectionKind = iota
	SectData
	SectRodata
	SectBSS
	SectDebug
)

// RelocKind mirrors codegen.RelocKind, kept as an independent type here
// so pkg/objfile has no import dependency on pkg/codegen; the
// translation between the two lives in pkg/compiler, the only package
// that imports both.
type RelocKind int

// Relocation kinds, matching codegen.RelocKind one for one.
const (
	Abs64 RelocKind = iota
	Abs32
	Rel32
)

// Reloc is one pending symbolic reference within a Section's Data, at
// byte Offset, to be patched against Symbol's final address once every
// section has been laid out.
type Reloc struct {
	Offset int64
	Symbol string
	Kind   RelocKind
	Addend int64
}

// Section is one contiguous region of the final image.
type Section struct {
	Name   string
	Kind   SectionKind
	Data   []byte // nil for SectBSS, which only occupies Size uninitialized bytes
	Size   int64  // BSS size; other kinds always take their size from len(Data)
	Relocs []Reloc
}

func (s *Section) effectiveSize() int64 {
	if s.Kind == SectBSS {
		return s.Size
	}
	return int64(len(s.Data))
}

// Binding classifies a Symbol for the object-file symbol table.
type Binding int

// Symbol bindings.
const (
	// Local symbols are not visible outside the object file (internal
	// labels, per-function helper symbols).
	Local Binding = iota
	// Global symbols are defined here and exported (e.g. $chocopy_main).
	Global
	// Extern symbols are referenced but defined elsewhere, resolved by
	// the system linker against the runtime library (§4.G).
	Extern
)

// Symbol names one location (or external reference) the relocations in
// this image may point at.
type Symbol struct {
	Name    string
	Binding Binding
	Section string // section this symbol is defined in; "" for Extern
	Value   int64  // offset within Section
}

// Image is the complete format-neutral compiled unit: sections,
// relocations, and symbol table (§3 "Compiled unit"), plus a build
// identifier shared across all three debug-info encodings (DESIGN.md's
// Open Question resolution for Mach-O/ELF/PDB parity).
type Image struct {
	Sections []*Section
	Symbols  []*Symbol
	BuildID  uuid.UUID
}

// NewImage creates an empty Image with a freshly generated build
// identifier (google/uuid, per DOMAIN STACK: "stamps a build identifier
// into the compiled object").
func NewImage() *Image {
	return &Image{BuildID: uuid.New()}
}

// Section returns the named section, creating it (empty, of kind k) if
// it does not yet exist.
func (img *Image) Section(name string, k SectionKind) *Section {
	for _, s := range img.Sections {
		if s.Name == name {
			return s
		}
	}
	s := &Section{Name: name, Kind: k}
	img.Sections = append(img.Sections, s)
	return s
}

// AddSymbol appends a new symbol definition or reference.
func (img *Image) AddSymbol(sym Symbol) {
	img.Symbols = append(img.Symbols, &sym)
}

// symbolIndex returns the index of name within img.Symbols, or -1.
func (img *Image) symbolIndex(name string) int {
	for i, s := range img.Symbols {
		if s.Name == name {
			return i
		}
	}
	return -1
}
