package objfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
)

// PE/COFF constants for an object file (no optional header, no image
// base — a plain .obj the Windows linker consumes), mirroring debug/pe's
// constant names without importing it.
const (
	machineAmd64 = 0x8664

	coffHdrSize = 20
	sectHdrSize = 40
	coffSymSize = 18
	relocSize   = 10

	sectCntCode            = 0x00000020
	sectCntInitData        = 0x00000040
	sectCntUninitData      = 0x00000080
	sectMemExecute         = 0x20000000
	sectMemRead            = 0x40000000
	sectMemWrite           = 0x80000000

	imageRelAmd64Addr64 = 0x0001 // absolute 64-bit
	imageRelAmd64Addr32 = 0x0002 // absolute 32-bit
	imageRelAmd64Rel32  = 0x0004 // RIP-relative 32-bit, as CALL/LEA expect

	coffSymClassExternal = 2
	coffSymClassStatic   = 3
	imageSymUndefined    = 0
	imageSymAbsolute     = -1
)

func peSectionFlags(k SectionKind) uint32 {
	switch k {
	case SectText:
		return sectCntCode | sectMemExecute | sectMemRead
	case SectData:
		return sectCntInitData | sectMemRead | sectMemWrite
	case SectRodata:
		return sectCntInitData | sectMemRead
	case SectBSS:
		return sectCntUninitData | sectMemRead | sectMemWrite
	case SectDebug:
		return sectCntInitData | sectMemRead
	default:
		return sectCntInitData | sectMemRead
	}
}

// peShortName returns an 8-byte COFF section name, truncating (a real
// linker would send anything longer through the string table; every
// name this compiler emits fits in 8 bytes).
func peShortName(name string) [8]byte {
	var out [8]byte
	copy(out[:], name)
	return out
}

// WritePECOFF encodes img as a Windows x86-64 COFF object file: file
// header, section headers, section data, relocations and a symbol
// table with a string table for names over 8 bytes (§4.G). The
// `google/uuid` build id is not representable as a COFF load command
// (PE load commands belong to the image, not the object); it is instead
// carried into the PDB70 debug stream pkg/debuginfo emits alongside
// this object, per DOMAIN STACK.
func WritePECOFF(w io.Writer, img *Image) error {
	strtab := []byte{0, 0, 0, 0} // first 4 bytes are the table's own size, patched at the end

	internName := func(name string) (short [8]byte) {
		if len(name) <= 8 {
			return peShortName(name)
		}
		off := len(strtab)
		strtab = append(strtab, name...)
		strtab = append(strtab, 0)
		// COFF encodes an over-length section name as "/<decimal offset>"
		// in the 8-byte field when it doesn't fit directly.
		enc := []byte("/" + strconv.Itoa(off))
		copy(short[:], enc)
		return short
	}

	type sectOut struct {
		name        [8]byte
		size        uint32
		numRelocs   uint16
		characteristics uint32
		data        []byte
		relocs      []Reloc
	}

	var sections []sectOut
	sectionNumber := map[string]int16{} // 1-based COFF section numbers
	for i, s := range img.Sections {
		sections = append(sections, sectOut{
			name:            internName(s.Name),
			size:            uint32(s.effectiveSize()),
			characteristics: peSectionFlags(s.Kind),
			data:            s.Data,
			relocs:          s.Relocs,
		})
		sectionNumber[s.Name] = int16(i + 1)
	}

	// Symbol table.
	var symBuf bytes.Buffer
	symIndex := map[string]uint32{}
	nextSymIdx := uint32(0)

	writeCoffSym := func(name string, value uint32, section int16, storageClass byte) {
		var short [8]byte
		if len(name) <= 8 {
			short = peShortName(name)
		} else {
			// A symbol name over 8 bytes is four zero bytes followed by
			// its offset into the string table.
			binary.LittleEndian.PutUint32(short[4:], uint32(len(strtab)))
			strtab = append(strtab, name...)
			strtab = append(strtab, 0)
		}
		symBuf.Write(short[:])
		binary.Write(&symBuf, binary.LittleEndian, value)
		binary.Write(&symBuf, binary.LittleEndian, section)
		binary.Write(&symBuf, binary.LittleEndian, uint16(0)) // type: not a function descriptor
		symBuf.WriteByte(storageClass)
		symBuf.WriteByte(0) // no aux symbols
		symIndex[name] = nextSymIdx
		nextSymIdx++
	}

	for _, s := range img.Symbols {
		switch s.Binding {
		case Local:
			writeCoffSym(s.Name, uint32(s.Value), sectionNumber[s.Section], coffSymClassStatic)
		case Global:
			writeCoffSym(s.Name, uint32(s.Value), sectionNumber[s.Section], coffSymClassExternal)
		case Extern:
			writeCoffSym(s.Name, 0, imageSymUndefined, coffSymClassExternal)
		}
	}

	// Relocation counts; the bytes themselves are emitted once file
	// offsets are known, in the final layout pass below.
	for i, s := range img.Sections {
		sections[i].relocs = s.Relocs
		sections[i].numRelocs = uint16(len(s.Relocs))
	}

	// Lay out: COFF header, section header table, then each section's
	// raw data (with 8-byte alignment), then each section's
	// relocations, then the symbol table, then the string table.
	headerAreaSize := coffHdrSize + sectHdrSize*len(sections)
	cursor := headerAreaSize

	align8 := func(n int) int { return (n + 7) &^ 7 }

	dataOffsets := make([]int, len(sections))
	for i := range sections {
		cursor = align8(cursor)
		dataOffsets[i] = cursor
		cursor += len(sections[i].data)
		if sections[i].characteristics&sectCntUninitData != 0 {
			// BSS occupies no file space; dataOffsets stays informative
			// only (PointerToRawData is conventionally 0 for BSS).
			cursor -= len(sections[i].data)
			dataOffsets[i] = 0
		}
	}
	relocOffsets := make([]int, len(sections))
	for i := range sections {
		if len(sections[i].relocs) == 0 {
			continue
		}
		cursor = align8(cursor)
		relocOffsets[i] = cursor
		cursor += len(sections[i].relocs) * relocSize
	}
	symtabOff := align8(cursor)
	cursor = symtabOff + symBuf.Len()
	strtabOff := cursor

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint16(machineAmd64))
	binary.Write(&out, binary.LittleEndian, uint16(len(sections)))
	binary.Write(&out, binary.LittleEndian, uint32(0)) // TimeDateStamp, zeroed for reproducibility
	binary.Write(&out, binary.LittleEndian, uint32(symtabOff))
	binary.Write(&out, binary.LittleEndian, uint32(nextSymIdx))
	binary.Write(&out, binary.LittleEndian, uint16(0)) // SizeOfOptionalHeader
	binary.Write(&out, binary.LittleEndian, uint16(0)) // Characteristics

	for i, s := range sections {
		out.Write(s.name[:])
		binary.Write(&out, binary.LittleEndian, s.size) // VirtualSize (object files: same as raw size)
		binary.Write(&out, binary.LittleEndian, uint32(0)) // VirtualAddress
		binary.Write(&out, binary.LittleEndian, uint32(len(s.data)))
		binary.Write(&out, binary.LittleEndian, uint32(dataOffsets[i]))
		binary.Write(&out, binary.LittleEndian, uint32(relocOffsets[i]))
		binary.Write(&out, binary.LittleEndian, uint32(0)) // PointerToLinenumbers
		binary.Write(&out, binary.LittleEndian, s.numRelocs)
		binary.Write(&out, binary.LittleEndian, uint16(0)) // NumberOfLinenumbers
		binary.Write(&out, binary.LittleEndian, s.characteristics)
	}

	for i, s := range sections {
		if s.characteristics&sectCntUninitData != 0 {
			continue
		}
		for out.Len() < dataOffsets[i] {
			out.WriteByte(0)
		}
		out.Write(s.data)
	}
	for i, s := range sections {
		if len(s.relocs) == 0 {
			continue
		}
		for out.Len() < relocOffsets[i] {
			out.WriteByte(0)
		}
		for _, r := range s.relocs {
			typ := uint16(imageRelAmd64Rel32)
			switch r.Kind {
			case Abs64:
				typ = imageRelAmd64Addr64
			case Abs32:
				typ = imageRelAmd64Addr32
			case Rel32:
				typ = imageRelAmd64Rel32
			}
			binary.Write(&out, binary.LittleEndian, uint32(r.Offset))
			binary.Write(&out, binary.LittleEndian, symIndex[r.Symbol])
			binary.Write(&out, binary.LittleEndian, typ)
		}
	}
	for out.Len() < symtabOff {
		out.WriteByte(0)
	}
	out.Write(symBuf.Bytes())

	binary.LittleEndian.PutUint32(strtab[:4], uint32(len(strtab)))
	for out.Len() < strtabOff {
		out.WriteByte(0)
	}
	out.Write(strtab)

	_, err := w.Write(out.Bytes())
	return err
}

