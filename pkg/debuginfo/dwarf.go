package debuginfo

import (
	"bytes"
	"encoding/binary"
)

// DWARF tag/attribute/form constants used below, named as in the DWARF
// v4 standard (debug/dwarf only exposes these for *reading*; this
// package is a writer, so the values are reproduced directly).
const (
	dwTagCompileUnit   = 0x11
	dwTagSubprogram    = 0x2e
	dwTagFormalParam   = 0x05
	dwTagVariable      = 0x34
	dwTagBaseType      = 0x24
	dwTagPointerType   = 0x0f
	dwTagStructureType = 0x13
	dwTagMember        = 0x0d

	dwAtName      = 0x03
	dwAtByteSize  = 0x0b
	dwAtEncoding  = 0x3e
	dwAtLowPC     = 0x11
	dwAtHighPC    = 0x12
	dwAtType      = 0x49
	dwAtLocation  = 0x02
	dwAtDataMemberLoc = 0x38
	dwAtCompDir   = 0x1b
	dwAtProducer  = 0x25
	dwAtStmtList  = 0x10

	dwFormString = 0x08 // inline null-terminated string
	dwFormData1  = 0x0b
	dwFormData4  = 0x06
	dwFormData8  = 0x07
	dwFormAddr   = 0x01
	dwFormRef4   = 0x13
	dwFormBlock1 = 0x0a
	dwFormSecOffset = 0x17

	dwChildrenYes = 1
	dwChildrenNo  = 0

	dwAteSigned  = 0x05
	dwAteBoolean = 0x02
	dwAteAddress = 0x01

	dwOpFbreg = 0x91 // location expr: frame-base relative

	dwLnsCopy          = 1
	dwLnsAdvancePC     = 2
	dwLnsAdvanceLine   = 3
	dwLneEndSequence   = 1
	dwLneSetAddress    = 2
)

func uleb128(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func sleb128(buf *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func cstr(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

type abbrevEntry struct {
	code     uint64
	tag      uint64
	children byte
	attrs    [][2]uint64 // (attribute, form) pairs
}

// Sections holds the four DWARF sections this package produces; the
// caller (pkg/compiler) wraps each as an objfile.Section of kind
// SectDebug with the conventional ELF/Mach-O names (".debug_info" etc,
// "__debug_info" etc).
type Sections struct {
	Info   []byte
	Abbrev []byte
	Line   []byte
	Str    []byte
}

// BuildDWARF renders prog into a compilation unit: base types for
// int/bool/object (str has no base-type DIE), a structure DIE per declared class (with member
// DIEs at their attribute offsets, past the 16-byte object header),
// subprogram DIEs with formal-parameter and variable children located
// via DW_OP_fbreg (frame-pointer relative, §4.H), and a minimal line
// number program built from each function's sequence points.
func BuildDWARF(prog *Program) Sections {
	var info, abbrev, line bytes.Buffer

	// A fixed abbreviation table covers every DIE shape this writer
	// emits; codes are assigned in the order first used below.
	abbrevs := []abbrevEntry{
		{1, dwTagCompileUnit, dwChildrenYes, [][2]uint64{{dwAtProducer, dwFormString}, {dwAtName, dwFormString}, {dwAtCompDir, dwFormString}, {dwAtStmtList, dwFormSecOffset}}},
		{2, dwTagBaseType, dwChildrenNo, [][2]uint64{{dwAtName, dwFormString}, {dwAtByteSize, dwFormData1}, {dwAtEncoding, dwFormData1}}},
		{3, dwTagStructureType, dwChildrenYes, [][2]uint64{{dwAtName, dwFormString}, {dwAtByteSize, dwFormData4}}},
		{4, dwTagMember, dwChildrenNo, [][2]uint64{{dwAtName, dwFormString}, {dwAtDataMemberLoc, dwFormData4}}},
		{5, dwTagSubprogram, dwChildrenYes, [][2]uint64{{dwAtName, dwFormString}, {dwAtLowPC, dwFormAddr}, {dwAtHighPC, dwFormData8}}},
		{6, dwTagFormalParam, dwChildrenNo, [][2]uint64{{dwAtName, dwFormString}, {dwAtLocation, dwFormBlock1}}},
		{7, dwTagVariable, dwChildrenNo, [][2]uint64{{dwAtName, dwFormString}, {dwAtLocation, dwFormBlock1}}},
		{8, dwTagPointerType, dwChildrenNo, nil},
	}
	for _, ae := range abbrevs {
		uleb128(&abbrev, ae.code)
		uleb128(&abbrev, ae.tag)
		abbrev.WriteByte(ae.children)
		for _, a := range ae.attrs {
			uleb128(&abbrev, a[0])
			uleb128(&abbrev, a[1])
		}
		abbrev.WriteByte(0)
		abbrev.WriteByte(0)
	}
	abbrev.WriteByte(0) // table terminator

	// .debug_info: a 4-byte length prefix (patched at the end), version,
	// abbrev offset, address size, then the DIE tree.
	cuHeader := &bytes.Buffer{}
	binary.Write(cuHeader, binary.LittleEndian, uint16(4)) // DWARF version 4
	binary.Write(cuHeader, binary.LittleEndian, uint32(0)) // abbrev offset (single CU, always 0)
	cuHeader.WriteByte(8)                                   // address size

	body := &bytes.Buffer{}
	uleb128(body, 1) // DW_TAG_compile_unit abbrev code
	cstr(body, "chocopyc")
	cstr(body, prog.Path)
	cstr(body, ".")
	binary.Write(body, binary.LittleEndian, uint32(0)) // DW_AT_stmt_list: offset 0 into .debug_line

	for _, bt := range []struct {
		name string
		size byte
		enc  byte
	}{
		{"int", 4, dwAteSigned},
		{"bool", 1, dwAteBoolean},
		{"object", 8, dwAteAddress},
	} {
		uleb128(body, 2)
		cstr(body, bt.name)
		body.WriteByte(bt.size)
		body.WriteByte(bt.enc)
	}

	for _, c := range prog.Classes {
		uleb128(body, 3)
		cstr(body, c.Name)
		binary.Write(body, binary.LittleEndian, uint32(c.Size))
		for _, a := range c.Attrs {
			uleb128(body, 4)
			cstr(body, a.Name)
			binary.Write(body, binary.LittleEndian, uint32(16+a.FrameOffset)) // past the object header, §4.F
		}
		body.WriteByte(0) // end of class's children
	}

	for _, fn := range prog.Functions {
		uleb128(body, 5)
		cstr(body, fn.Name)
		binary.Write(body, binary.LittleEndian, uint64(0)) // DW_AT_low_pc: written as 0; no relocation against fn.Symbol is recorded
		binary.Write(body, binary.LittleEndian, uint64(fn.CodeLen))
		for _, p := range fn.Params {
			uleb128(body, 6)
			cstr(body, p.Name)
			loc := frameLocExpr(p.FrameOffset)
			body.WriteByte(byte(len(loc)))
			body.Write(loc)
		}
		for _, v := range fn.Locals {
			uleb128(body, 7)
			cstr(body, v.Name)
			loc := frameLocExpr(v.FrameOffset)
			body.WriteByte(byte(len(loc)))
			body.Write(loc)
		}
		body.WriteByte(0) // end of subprogram's children
	}
	body.WriteByte(0) // end of compile_unit's children

	cuHeader.Write(body.Bytes())
	totalLen := uint32(cuHeader.Len())
	binary.Write(&info, binary.LittleEndian, totalLen)
	info.Write(cuHeader.Bytes())

	buildLineProgram(&line, prog)

	return Sections{Info: info.Bytes(), Abbrev: abbrev.Bytes(), Line: line.Bytes(), Str: nil}
}

// frameLocExpr encodes `DW_OP_fbreg <sleb128 offset>`, a location
// expression relative to the subprogram's frame base (RBP, per §4.E's
// stack-frame layout), for a local or parameter.
func frameLocExpr(offset int32) []byte {
	var b bytes.Buffer
	b.WriteByte(dwOpFbreg)
	sleb128(&b, int64(offset))
	return b.Bytes()
}

// buildLineProgram emits a minimal DWARF line number program: a header
// naming the single source file, then one row per SeqPoint using
// DW_LNS_advance_line/advance_pc/copy, ending each function's sequence
// with DW_LNE_end_sequence (§4.H "line program").
func buildLineProgram(line *bytes.Buffer, prog *Program) {
	header := &bytes.Buffer{}
	binary.Write(header, binary.LittleEndian, uint16(4)) // version
	body := &bytes.Buffer{}
	body.WriteByte(1) // minimum_instruction_length
	body.WriteByte(1) // maximum_operations_per_instruction (DWARF4 VLIW field)
	body.WriteByte(1) // default_is_stmt
	body.WriteByte(251)       // line_base as unsigned storage (signed -5 wrapped), kept simple/fixed
	body.WriteByte(14)        // line_range
	body.WriteByte(13)        // opcode_base
	for i := 0; i < 12; i++ {
		body.WriteByte(0) // standard_opcode_lengths, unused since only copy/advance/end are emitted
	}
	body.WriteByte(0) // include_directories terminator
	if prog.Path != "" {
		cstr(body, prog.Path)
		uleb128(body, 0)
		uleb128(body, 0)
		uleb128(body, 0)
	}
	body.WriteByte(0) // file_names terminator

	prologueLength := uint32(body.Len())
	binary.Write(header, binary.LittleEndian, prologueLength)
	header.Write(body.Bytes())

	program := &bytes.Buffer{}
	for _, fn := range prog.Functions {
		lastLine := 1
		lastOffset := int64(0)
		for i, sp := range fn.SeqPoints {
			if i == 0 {
				program.WriteByte(0) // extended opcode
				uleb128(program, 9)
				program.WriteByte(dwLneSetAddress)
				binary.Write(program, binary.LittleEndian, uint64(sp.CodeOffset))
				lastOffset = sp.CodeOffset
			}
			deltaLine := sp.Line - lastLine
			deltaPC := sp.CodeOffset - lastOffset
			program.WriteByte(dwLnsAdvanceLine)
			sleb128(program, int64(deltaLine))
			program.WriteByte(dwLnsAdvancePC)
			uleb128(program, uint64(deltaPC))
			program.WriteByte(dwLnsCopy)
			lastLine, lastOffset = sp.Line, sp.CodeOffset
		}
		program.WriteByte(0)
		uleb128(program, 1)
		program.WriteByte(dwLneEndSequence)
	}

	totalLen := uint32(header.Len() + program.Len())
	binary.Write(line, binary.LittleEndian, totalLen)
	line.Write(header.Bytes())
	line.Write(program.Bytes())
}
