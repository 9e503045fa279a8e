package debuginfo

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// CodeView symbol-record kinds (§4.H "PDB/CodeView: equivalent
// records"), named as in Microsoft's public CodeView documentation.
const (
	cvSymbolS_GPROC32 = 0x1110 // global procedure start
	cvSymbolS_END     = 0x0006
	cvSymbolS_LDATA32 = 0x110c // local/module-static data
	cvSymbolS_REGREL32 = 0x1111 // frame-pointer-relative local/parameter

	cvSigPDB70 = "Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00"
)

// PDBBuildID is the PDB70 GUID+age pair a PE's CodeView debug directory
// entry points at; callers share the same uuid.UUID used for Mach-O's
// LC_UUID and ELF's .note.gnu.build-id so all three formats key off one
// build identifier (DESIGN.md Open Question resolution).
type PDBBuildID struct {
	GUID uuid.UUID
	Age  uint32
}

// ModuleDebugRecords is one compiland's worth of CodeView symbol
// records, the PDB analog of a single object file's contribution to
// the link-time debug stream.
type ModuleDebugRecords struct {
	Records []byte
}

func recLen(kind uint16, payload []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint16(2+len(payload)))
	binary.Write(&b, binary.LittleEndian, kind)
	b.Write(payload)
	return b.Bytes()
}

// BuildPDB renders prog into the CodeView symbol stream a PDB writer
// (external, part of the link step) would place in its module stream:
// one S_GPROC32 per function bracketing S_REGREL32 records for its
// parameters and locals (frame-pointer relative, matching the DWARF
// DW_OP_fbreg encoding above).
func BuildPDB(prog *Program, buildID PDBBuildID) (ModuleDebugRecords, []byte) {
	var out bytes.Buffer

	for _, fn := range prog.Functions {
		var payload bytes.Buffer
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // pParent
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // pEnd, patched by the linker once module offsets are known
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // pNext
		binary.Write(&payload, binary.LittleEndian, uint32(fn.CodeLen))
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // DbgStart
		binary.Write(&payload, binary.LittleEndian, uint32(fn.CodeLen)) // DbgEnd
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // type index, unresolved without a full type stream
		binary.Write(&payload, binary.LittleEndian, uint32(0)) // off: written as 0; no relocation against fn.Symbol is recorded
		binary.Write(&payload, binary.LittleEndian, uint16(0)) // seg
		payload.WriteByte(0)                                   // flags
		payload.WriteString(fn.Name)
		payload.WriteByte(0)
		out.Write(recLen(cvSymbolS_GPROC32, payload.Bytes()))

		emitLocal := func(v Var) {
			var p bytes.Buffer
			binary.Write(&p, binary.LittleEndian, int32(v.FrameOffset))
			binary.Write(&p, binary.LittleEndian, uint16(0)) // type index
			binary.Write(&p, binary.LittleEndian, uint16(0x0111)) // CV_REG_RBP-relative addressing mode marker
			p.WriteString(v.Name)
			p.WriteByte(0)
			out.Write(recLen(cvSymbolS_REGREL32, p.Bytes()))
		}
		for _, p := range fn.Params {
			emitLocal(p)
		}
		for _, l := range fn.Locals {
			emitLocal(l)
		}

		out.Write(recLen(cvSymbolS_END, nil))
	}

	guidAge := make([]byte, 20)
	b, _ := buildID.GUID.MarshalBinary()
	copy(guidAge, b)
	binary.LittleEndian.PutUint32(guidAge[16:], buildID.Age)

	return ModuleDebugRecords{Records: out.Bytes()}, guidAge
}
