// Package debuginfo builds the source-level debugging side channel
// (§4.H): a DWARF line program plus base-type and structure DIEs on
// Unix (no pointer-type DIEs are emitted), and CodeView/PDB-equivalent records on Windows, both keyed off
// one shared build identifier (DESIGN.md's Mach-O/ELF/PDB parity
// resolution) so either toolchain's debugger can match the compiled
// object to its side table.
//
// The code generator accumulates a Program{Functions, Classes} tree
// while it emits each function; this package renders that tree into the
// two binary encodings below, so the debug side channel never needs to
// re-read the AST.
package debuginfo

// Var describes one named, typed storage location: a parameter, a
// local variable, or a class attribute, in source terms.
type Var struct {
	Name        string
	Type        string // ChocoPy type name, e.g. "int", "[str]", "A"
	FrameOffset int32  // RBP-relative byte offset; 0 for class attributes
	IsParam     bool
}

// SeqPoint maps one instruction offset, within a function's emitted
// code, back to a source line (§4.H "source-line map").
type SeqPoint struct {
	CodeOffset int64
	Line       int
}

// Function is one compiled function or method's debug-visible shape.
type Function struct {
	Symbol    string // object-file symbol, e.g. "$A$f" or "$chocopy_main"
	Name      string // source-visible name, unprefixed (§4.H naming convention)
	Line      int
	Params    []Var
	Locals    []Var
	SeqPoints []SeqPoint
	CodeLen   int64
}

// ClassType is one ChocoPy class's attribute layout, for a structure
// DIE / CodeView UDT record.
type ClassType struct {
	Name   string
	Parent string
	Size   int
	Attrs  []Var
}

// Program is the whole-compilation-unit input to BuildDWARF and
// BuildPDB: every function emitted by pkg/codegen plus every declared
// class, enough to reconstruct source-level names, types and line
// mappings without re-reading the AST.
type Program struct {
	Path      string
	Functions []Function
	Classes   []ClassType
}
