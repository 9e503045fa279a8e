package objfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ELF64 constants used by WriteELF. Only the subset needed to produce a
// relocatable (ET_REL) x86-64 object file that a system linker accepts
// is modeled; this mirrors debug/elf's constant names without importing
// it (debug/elf is read-only).
const (
	elfMagic = "\x7fELF"

	elfClass64  = 2
	elfDataLSB  = 1
	elfVersion1 = 1
	elfOSABISV  = 0 // System V

	etREL     = 1
	emX86_64  = 62
	ehdrSize  = 64
	shdrSize  = 64
	symSize   = 24
	relaSize  = 24

	shtNull    = 0
	shtProgBits = 1
	shtSymtab  = 2
	shtStrtab  = 3
	shtRela    = 4
	shtNobits  = 8
	shtNote    = 7

	shfWrite = 1 << 0
	shfAlloc = 1 << 1
	shfExec  = 1 << 2

	stbLocal  = 0
	stbGlobal = 1

	sttNotype = 0
	sttObject = 1
	sttFunc   = 2

	rX86_6464  = 1  // R_X86_64_64, absolute 64-bit
	rX86_64PC32 = 2 // R_X86_64_PC32, PC-relative 32-bit
	rX86_6432  = 10 // R_X86_64_32, absolute 32-bit
)

// sectionKindFlags returns the section header type/flags for an objfile
// section kind.
func sectionKindFlags(k SectionKind) (shType uint32, flags uint64) {
	switch k {
	case SectText:
		return shtProgBits, shfAlloc | shfExec
	case SectData:
		return shtProgBits, shfAlloc | shfWrite
	case SectRodata:
		return shtProgBits, shfAlloc
	case SectBSS:
		return shtNobits, shfAlloc | shfWrite
	case SectDebug:
		return shtProgBits, 0
	default:
		return shtProgBits, shfAlloc
	}
}

// elfStrtab accumulates a null-terminated string table, returning each
// string's offset on insertion (ELF/PE/Mach-O all use this idiom, so
// each encoder below keeps its own small copy rather than sharing one
// across formats with different addressing quirks).
type elfStrtab struct {
	buf []byte
}

func newElfStrtab() *elfStrtab { return &elfStrtab{buf: []byte{0}} }

func (t *elfStrtab) add(s string) uint32 {
	off := uint32(len(t.buf))
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	return off
}

// WriteELF encodes img as a relocatable x86-64 ELF object file (ET_REL),
// per §4.G: section table, .rela sections for every relocation, a
// symbol table with STB_LOCAL/STB_GLOBAL definitions and undefined
// (STB_GLOBAL, SHN_UNDEF) externs for the runtime library, and a
// .note.gnu.build-id note carrying img.BuildID (DOMAIN STACK).
func WriteELF(w io.Writer, img *Image) error {
	var body bytes.Buffer // everything after the ELF header

	shstrtab := newElfStrtab()
	symstrtab := newElfStrtab()

	type shdrOut struct {
		nameOff   uint32
		shType    uint32
		flags     uint64
		addr      uint64
		offset    uint64
		size      uint64
		link      uint32
		info      uint32
		align     uint64
		entsize   uint64
	}

	var shdrs []shdrOut
	sectionIndex := map[string]int{} // objfile section name -> ELF section index (1-based, 0 is SHN_UNDEF)

	// Section 0 is the mandatory null section.
	shdrs = append(shdrs, shdrOut{})

	align := func(n int) {
		for body.Len()%8 != 0 {
			body.WriteByte(0)
		}
		_ = n
	}

	for _, s := range img.Sections {
		align(8)
		shType, flags := sectionKindFlags(s.Kind)
		off := uint64(ehdrSize + body.Len())
		size := uint64(s.effectiveSize())
		if s.Kind != SectBSS {
			body.Write(s.Data)
		}
		shdrs = append(shdrs, shdrOut{
			nameOff: shstrtab.add(s.Name),
			shType:  shType,
			flags:   flags,
			offset:  off,
			size:    size,
			align:   8,
		})
		sectionIndex[s.Name] = len(shdrs) - 1
	}

	// .note.gnu.build-id: Elf64_Nhdr + "GNU\0" + 16 raw UUID bytes.
	{
		align(8)
		var note bytes.Buffer
		name := []byte("GNU\x00")
		desc := img.BuildID[:]
		binary.Write(&note, binary.LittleEndian, uint32(len(name)))
		binary.Write(&note, binary.LittleEndian, uint32(len(desc)))
		binary.Write(&note, binary.LittleEndian, uint32(3)) // NT_GNU_BUILD_ID
		note.Write(name)
		note.Write(desc)
		off := uint64(ehdrSize + body.Len())
		body.Write(note.Bytes())
		shdrs = append(shdrs, shdrOut{
			nameOff: shstrtab.add(".note.gnu.build-id"),
			shType:  shtNote,
			flags:   shfAlloc,
			offset:  off,
			size:    uint64(note.Len()),
			align:   4,
		})
		sectionIndex[".note.gnu.build-id"] = len(shdrs) - 1
	}

	// Symbol table. Index 0 is the mandatory null symbol. Locals must
	// precede globals (ELF requirement); img.Symbols is already in a
	// stable order, so partition while preserving relative order.
	var symOut bytes.Buffer

	type elfSym struct {
		name  uint32
		info  byte
		other byte
		shndx uint16
		value uint64
		size  uint64
	}
	encodeSym := func(s elfSym) {
		binary.Write(&symOut, binary.LittleEndian, s.name)
		symOut.WriteByte(s.info)
		symOut.WriteByte(s.other)
		binary.Write(&symOut, binary.LittleEndian, s.shndx)
		binary.Write(&symOut, binary.LittleEndian, s.value)
		binary.Write(&symOut, binary.LittleEndian, s.size)
	}
	encodeSym(elfSym{}) // null symbol, index 0

	symIndex := map[string]uint32{}
	var locals, globals []*Symbol
	for _, s := range img.Symbols {
		if s.Binding == Local {
			locals = append(locals, s)
		} else {
			globals = append(globals, s)
		}
	}
	numLocal := uint32(1) // the null symbol counts as local
	for _, s := range locals {
		shndx := uint16(0)
		if idx, ok := sectionIndex[s.Section]; ok {
			shndx = uint16(idx)
		}
		symIndex[s.Name] = uint32(len(symIndex)) + 1
		encodeSym(elfSym{name: symstrtab.add(s.Name), info: sttNotype, shndx: shndx, value: uint64(s.Value)})
		numLocal++
	}
	for _, s := range globals {
		shndx := uint16(0) // SHN_UNDEF for Extern
		if s.Binding == Global {
			if idx, ok := sectionIndex[s.Section]; ok {
				shndx = uint16(idx)
			}
		}
		info := byte(stbGlobal<<4) | sttFunc
		if s.Binding == Extern {
			info = byte(stbGlobal<<4) | sttNotype
		}
		symIndex[s.Name] = uint32(len(symIndex)) + 1
		encodeSym(elfSym{name: symstrtab.add(s.Name), info: info, shndx: shndx, value: uint64(s.Value)})
	}

	align(8)
	symtabOff := uint64(ehdrSize + body.Len())
	body.Write(symOut.Bytes())
	symtabShdr := len(shdrs)
	shdrs = append(shdrs, shdrOut{
		nameOff: shstrtab.add(".symtab"),
		shType:  shtSymtab,
		offset:  symtabOff,
		size:    uint64(symOut.Len()),
		entsize: symSize,
		align:   8,
		info:    numLocal,
	})

	align(8)
	strtabOff := uint64(ehdrSize + body.Len())
	body.Write(symstrtab.buf)
	strtabShdr := len(shdrs)
	shdrs = append(shdrs, shdrOut{
		nameOff: shstrtab.add(".strtab"),
		shType:  shtStrtab,
		offset:  strtabOff,
		size:    uint64(len(symstrtab.buf)),
		align:   1,
	})
	shdrs[symtabShdr].link = uint32(strtabShdr)

	// .rela.<section> for every section carrying relocations.
	for _, s := range img.Sections {
		if len(s.Relocs) == 0 {
			continue
		}
		var relaBuf bytes.Buffer
		for _, r := range s.Relocs {
			idx, ok := symIndex[r.Symbol]
			if !ok {
				return fmt.Errorf("objfile: relocation against unknown symbol %q", r.Symbol)
			}
			typ := uint32(rX86_64PC32)
			switch r.Kind {
			case Abs64:
				typ = rX86_6464
			case Abs32:
				typ = rX86_6432
			case Rel32:
				typ = rX86_64PC32
			}
			info := (uint64(idx) << 32) | uint64(typ)
			// Image relocations use the in-place convention (the patched
			// field sits 4 bytes before the next instruction), so the
			// explicit ELF addend folds that bias in.
			addend := r.Addend
			if r.Kind == Rel32 {
				addend -= 4
			}
			binary.Write(&relaBuf, binary.LittleEndian, uint64(r.Offset))
			binary.Write(&relaBuf, binary.LittleEndian, info)
			binary.Write(&relaBuf, binary.LittleEndian, addend)
		}
		align(8)
		off := uint64(ehdrSize + body.Len())
		body.Write(relaBuf.Bytes())
		shdrs = append(shdrs, shdrOut{
			nameOff: shstrtab.add(".rela" + s.Name),
			shType:  shtRela,
			offset:  off,
			size:    uint64(relaBuf.Len()),
			entsize: relaSize,
			link:    uint32(symtabShdr),
			info:    uint32(sectionIndex[s.Name]),
			align:   8,
		})
	}

	shstrtabNameOff := shstrtab.add(".shstrtab")
	align(8)
	shstrtabOff := uint64(ehdrSize + body.Len())
	body.Write(shstrtab.buf)
	shstrtabIdx := len(shdrs)
	shdrs = append(shdrs, shdrOut{
		nameOff: shstrtabNameOff,
		shType:  shtStrtab,
		offset:  shstrtabOff,
		size:    uint64(len(shstrtab.buf)),
		align:   1,
	})

	align(8)
	shoff := uint64(ehdrSize + body.Len())

	// Ehdr.
	var hdr bytes.Buffer
	hdr.WriteString(elfMagic)
	hdr.WriteByte(elfClass64)
	hdr.WriteByte(elfDataLSB)
	hdr.WriteByte(elfVersion1)
	hdr.WriteByte(elfOSABISV)
	hdr.Write(make([]byte, 8)) // padding
	binary.Write(&hdr, binary.LittleEndian, uint16(etREL))
	binary.Write(&hdr, binary.LittleEndian, uint16(emX86_64))
	binary.Write(&hdr, binary.LittleEndian, uint32(elfVersion1))
	binary.Write(&hdr, binary.LittleEndian, uint64(0)) // e_entry
	binary.Write(&hdr, binary.LittleEndian, uint64(0)) // e_phoff
	binary.Write(&hdr, binary.LittleEndian, shoff)
	binary.Write(&hdr, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&hdr, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&hdr, binary.LittleEndian, uint16(0)) // e_phentsize
	binary.Write(&hdr, binary.LittleEndian, uint16(0)) // e_phnum
	binary.Write(&hdr, binary.LittleEndian, uint16(shdrSize))
	binary.Write(&hdr, binary.LittleEndian, uint16(len(shdrs)))
	binary.Write(&hdr, binary.LittleEndian, uint16(shstrtabIdx))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	for _, s := range shdrs {
		var sh bytes.Buffer
		binary.Write(&sh, binary.LittleEndian, s.nameOff)
		binary.Write(&sh, binary.LittleEndian, s.shType)
		binary.Write(&sh, binary.LittleEndian, s.flags)
		binary.Write(&sh, binary.LittleEndian, s.addr)
		binary.Write(&sh, binary.LittleEndian, s.offset)
		binary.Write(&sh, binary.LittleEndian, s.size)
		binary.Write(&sh, binary.LittleEndian, s.link)
		binary.Write(&sh, binary.LittleEndian, s.info)
		binary.Write(&sh, binary.LittleEndian, s.align)
		binary.Write(&sh, binary.LittleEndian, s.entsize)
		if _, err := w.Write(sh.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
