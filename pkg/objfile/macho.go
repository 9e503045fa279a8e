package objfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
)

// Mach-O constants for a relocatable x86-64 object file (MH_OBJECT),
// mirroring debug/macho's naming without importing it (debug/macho is
// read-only). Design Notes flags Mach-O as the least-validated target;
// this encoder targets the same section/symbol/relocation feature set
// as WriteELF, as that Open Question resolves.
const (
	machoMagic64  = 0xfeedfacf
	cpuTypeX86_64 = 0x01000007 | 0
	cpuSubtypeAll = 3
	mhObject      = 1

	lcSegment64  = 0x19
	lcSymtab     = 0x2
	lcUUID       = 0x1b

	machHeaderSize = 32
	segCmd64Size   = 72
	sect64Size     = 80
	symtabCmdSize  = 24
	uuidCmdSize    = 24
	nlistSize      = 16

	machoRelocAbs64  = 0 // X86_64_RELOC_UNSIGNED with length=3 (8 bytes)
	machoRelocSigned = 1 // X86_64_RELOC_SIGNED, PC-relative

	nTypeSect = 0x0e // N_SECT: defined in a section
	nTypeUndf = 0x00 // N_UNDF: external, undefined
	nExt      = 0x01 // external symbol bit

	s_regular     = 0x0
	s_zerofill    = 0x1
	attrSomeInstr = 0x00000400
	attrPureInstr = 0x80000000
)

func machoSegFlags(k SectionKind, name string) (sectType uint32, attrs uint32, segName, sectName string) {
	switch k {
	case SectText:
		return s_regular, attrPureInstr | attrSomeInstr, "__TEXT", "__text"
	case SectRodata:
		return s_regular, 0, "__TEXT", "__const"
	case SectData:
		return s_regular, 0, "__DATA", "__data"
	case SectBSS:
		return s_zerofill, 0, "__DATA", "__bss"
	case SectDebug:
		// ELF-conventional ".debug_info" etc becomes "__debug_info" in
		// the __DWARF segment.
		return s_regular, 0, "__DWARF", "__" + strings.TrimPrefix(name, ".")
	default:
		return s_regular, 0, "__DATA", "__data"
	}
}

func machoFixedName16(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

// WriteMachO encodes img as a relocatable x86-64 Mach-O object file: a
// single `__TEXT`/`__DATA`/`__DWARF` `LC_SEGMENT_64` load command
// holding every section, an `LC_SYMTAB`, and an `LC_UUID` load command
// carrying img.BuildID so a debugger can match this object to the
// `pkg/debuginfo`-emitted side table (§4.G, DOMAIN STACK).
func WriteMachO(w io.Writer, img *Image) error {
	type machoSect struct {
		segName, sectName string
		data               []byte
		size               uint64
		flags              uint32
		relocs             []Reloc
	}

	var sects []machoSect
	sectIndex := map[string]int{} // objfile section name -> 1-based Mach-O section index
	for _, s := range img.Sections {
		typ, attrs, seg, nm := machoSegFlags(s.Kind, s.Name)
		sects = append(sects, machoSect{
			segName: seg, sectName: nm,
			data:   s.Data,
			size:   uint64(s.effectiveSize()),
			flags:  typ | attrs,
			relocs: s.Relocs,
		})
		sectIndex[s.Name] = len(sects)
	}

	var symBuf bytes.Buffer
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symIndex := map[string]uint32{}
	addStr := func(s string) uint32 {
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return off
	}
	idx := uint32(0)
	for _, s := range img.Symbols {
		nameOff := addStr(s.Name)
		nType := byte(nTypeUndf)
		nSect := byte(0)
		nValue := uint64(0)
		if s.Binding != Extern {
			nType = nTypeSect | nExt
			nSect = byte(sectIndex[s.Section])
			nValue = uint64(s.Value)
		} else {
			nType = nTypeUndf | nExt
		}
		binary.Write(&symBuf, binary.LittleEndian, nameOff)
		symBuf.WriteByte(nType)
		symBuf.WriteByte(nSect)
		binary.Write(&symBuf, binary.LittleEndian, uint16(0)) // n_desc
		binary.Write(&symBuf, binary.LittleEndian, nValue)
		symIndex[s.Name] = idx
		idx++
	}

	// Layout: header, segment command + N section headers, symtab
	// command, uuid command, then section data, then relocations, then
	// symbol table, then string table.
	numLoadCommands := uint32(3) // segment, symtab, uuid
	sizeOfCmds := uint32(segCmd64Size + sect64Size*len(sects) + symtabCmdSize + uuidCmdSize)

	cursor := machHeaderSize + int(sizeOfCmds)
	align8 := func(n int) int { return (n + 7) &^ 7 }

	dataOffsets := make([]int, len(sects))
	for i, s := range sects {
		if s.flags&0xff == s_zerofill {
			continue
		}
		cursor = align8(cursor)
		dataOffsets[i] = cursor
		cursor += len(s.data)
	}
	relocOffsets := make([]int, len(sects))
	relocCounts := make([]int, len(sects))
	for i, s := range sects {
		if len(s.relocs) == 0 {
			continue
		}
		cursor = align8(cursor)
		relocOffsets[i] = cursor
		relocCounts[i] = len(s.relocs)
		cursor += len(s.relocs) * 8 // Mach-O relocation_info is 8 bytes
	}
	symoff := align8(cursor)
	cursor = symoff + symBuf.Len()
	stroff := cursor
	cursor += strtab.Len()

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(machoMagic64))
	binary.Write(&out, binary.LittleEndian, uint32(cpuTypeX86_64))
	binary.Write(&out, binary.LittleEndian, uint32(cpuSubtypeAll))
	binary.Write(&out, binary.LittleEndian, uint32(mhObject))
	binary.Write(&out, binary.LittleEndian, numLoadCommands)
	binary.Write(&out, binary.LittleEndian, sizeOfCmds)
	binary.Write(&out, binary.LittleEndian, uint32(0)) // flags
	binary.Write(&out, binary.LittleEndian, uint32(0)) // reserved

	vmsize := uint64(0)
	for i := range sects {
		vmsize += uint64(align8(int(sects[i].size)))
	}

	binary.Write(&out, binary.LittleEndian, uint32(lcSegment64))
	binary.Write(&out, binary.LittleEndian, uint32(segCmd64Size+sect64Size*len(sects)))
	segNameAll := machoFixedName16("")
	out.Write(segNameAll[:]) // segname "" covers the whole object, per convention for MH_OBJECT
	binary.Write(&out, binary.LittleEndian, uint64(0)) // vmaddr
	binary.Write(&out, binary.LittleEndian, vmsize)
	binary.Write(&out, binary.LittleEndian, uint64(0)) // fileoff, patched per-section instead
	binary.Write(&out, binary.LittleEndian, vmsize)     // filesize
	binary.Write(&out, binary.LittleEndian, uint32(7))  // maxprot: rwx
	binary.Write(&out, binary.LittleEndian, uint32(7))  // initprot
	binary.Write(&out, binary.LittleEndian, uint32(len(sects)))
	binary.Write(&out, binary.LittleEndian, uint32(0)) // flags

	for i, s := range sects {
		sectName := machoFixedName16(s.sectName)
		out.Write(sectName[:])
		segName := machoFixedName16(s.segName)
		out.Write(segName[:])
		binary.Write(&out, binary.LittleEndian, uint64(0)) // addr
		binary.Write(&out, binary.LittleEndian, s.size)
		binary.Write(&out, binary.LittleEndian, uint32(dataOffsets[i]))
		binary.Write(&out, binary.LittleEndian, uint32(2)) // align, log2 bytes
		binary.Write(&out, binary.LittleEndian, uint32(relocOffsets[i]))
		binary.Write(&out, binary.LittleEndian, uint32(relocCounts[i]))
		binary.Write(&out, binary.LittleEndian, s.flags)
		binary.Write(&out, binary.LittleEndian, uint32(0)) // reserved1
		binary.Write(&out, binary.LittleEndian, uint32(0)) // reserved2
		binary.Write(&out, binary.LittleEndian, uint32(0)) // reserved3
	}

	binary.Write(&out, binary.LittleEndian, uint32(lcSymtab))
	binary.Write(&out, binary.LittleEndian, uint32(symtabCmdSize))
	binary.Write(&out, binary.LittleEndian, uint32(symoff))
	binary.Write(&out, binary.LittleEndian, uint32(len(img.Symbols)))
	binary.Write(&out, binary.LittleEndian, uint32(stroff))
	binary.Write(&out, binary.LittleEndian, uint32(strtab.Len()))

	binary.Write(&out, binary.LittleEndian, uint32(lcUUID))
	binary.Write(&out, binary.LittleEndian, uint32(uuidCmdSize))
	out.Write(img.BuildID[:])

	for i, s := range sects {
		if s.flags&0xff == s_zerofill {
			continue
		}
		for out.Len() < dataOffsets[i] {
			out.WriteByte(0)
		}
		out.Write(s.data)
	}
	for i, s := range sects {
		if len(s.relocs) == 0 {
			continue
		}
		for out.Len() < relocOffsets[i] {
			out.WriteByte(0)
		}
		for _, r := range s.relocs {
			typ := uint32(machoRelocSigned)
			length := uint32(2) // 4 bytes
			if r.Kind == Abs64 {
				typ = machoRelocAbs64
				length = 3 // 8 bytes
			}
			// relocation_info: r_address (int32), then a bitfield word
			// packing r_symbolnum:24, r_pcrel:1, r_length:2, r_extern:1,
			// r_type:4.
			binary.Write(&out, binary.LittleEndian, int32(r.Offset))
			symnum := symIndex[r.Symbol]
			word := symnum & 0xFFFFFF
			if r.Kind != Abs64 {
				word |= 1 << 24 // r_pcrel
			}
			word |= (length & 0x3) << 25
			word |= 1 << 27 // r_extern
			word |= (typ & 0xF) << 28
			binary.Write(&out, binary.LittleEndian, word)
		}
	}
	for out.Len() < symoff {
		out.WriteByte(0)
	}
	out.Write(symBuf.Bytes())
	for out.Len() < stroff {
		out.WriteByte(0)
	}
	out.Write(strtab.Bytes())

	_, err := w.Write(out.Bytes())
	return err
}
