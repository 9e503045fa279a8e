package debuginfo

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProgram() *Program {
	return &Program{
		Path: "test.py",
		Functions: []Function{
			{
				Symbol: "$chocopy_main", Name: "$chocopy_main", Line: 1, CodeLen: 64,
				SeqPoints: []SeqPoint{{CodeOffset: 0, Line: 1}, {CodeOffset: 16, Line: 2}, {CodeOffset: 40, Line: 5}},
			},
			{
				Symbol: "$A$f", Name: "f", Line: 3, CodeLen: 32,
				Params:    []Var{{Name: "self", Type: "A", FrameOffset: 16, IsParam: true}},
				Locals:    []Var{{Name: "tmp", Type: "int", FrameOffset: -16}},
				SeqPoints: []SeqPoint{{CodeOffset: 0, Line: 4}},
			},
		},
		Classes: []ClassType{
			{Name: "A", Parent: "object", Size: 12, Attrs: []Var{
				{Name: "x", Type: "int", FrameOffset: 0},
				{Name: "next", Type: "A", FrameOffset: 4},
			}},
		},
	}
}

func decodeULEB(data []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, b := range data {
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return v, len(data)
}

func TestLEB128(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20} {
		var buf bytes.Buffer
		uleb128(&buf, v)
		got, n := decodeULEB(buf.Bytes())
		assert.Equal(t, v, got)
		assert.Equal(t, buf.Len(), n)
	}
	for _, v := range []int64{0, -1, 63, -64, 64, -65, -10000} {
		var buf bytes.Buffer
		sleb128(&buf, v)
		// Decode signed LEB128.
		var got int64
		var shift uint
		var last byte
		for _, b := range buf.Bytes() {
			got |= int64(b&0x7f) << shift
			shift += 7
			last = b
		}
		if shift < 64 && last&0x40 != 0 {
			got |= -1 << shift
		}
		assert.Equal(t, v, got)
	}
}

func TestBuildDWARFSections(t *testing.T) {
	s := BuildDWARF(testProgram())
	require.NotEmpty(t, s.Info)
	require.NotEmpty(t, s.Abbrev)
	require.NotEmpty(t, s.Line)

	// The compilation unit's length prefix covers the rest of
	// .debug_info.
	cuLen := binary.LittleEndian.Uint32(s.Info[:4])
	assert.Equal(t, int(cuLen), len(s.Info)-4)

	// Names survive into the DIE stream as inline strings.
	for _, want := range []string{"chocopyc", "test.py", "A", "x", "next", "f", "self", "tmp", "int", "bool"} {
		assert.True(t, bytes.Contains(s.Info, append([]byte(want), 0)), "missing %q in .debug_info", want)
	}

	// The line program's length prefix covers the rest of .debug_line.
	lineLen := binary.LittleEndian.Uint32(s.Line[:4])
	assert.Equal(t, int(lineLen), len(s.Line)-4)
}

func TestDWARFAbbrevTerminated(t *testing.T) {
	s := BuildDWARF(testProgram())
	assert.Equal(t, byte(0), s.Abbrev[len(s.Abbrev)-1])
}

func TestMemberOffsetsPastHeader(t *testing.T) {
	s := BuildDWARF(testProgram())
	// Attribute x at offset 0 is encoded as 16 (past the $proto/$ref
	// header), attribute next at 4 as 20.
	xOff := bytes.Index(s.Info, append([]byte("x"), 0))
	require.GreaterOrEqual(t, xOff, 0)
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(s.Info[xOff+2:xOff+6]))
}

func TestBuildPDBRecords(t *testing.T) {
	recs, guidAge := BuildPDB(testProgram(), PDBBuildID{GUID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("x")), Age: 1})
	require.NotEmpty(t, recs.Records)
	require.Len(t, guidAge, 20)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(guidAge[16:]))

	// Each function contributes an S_GPROC32 ... S_END bracket with its
	// name embedded.
	for _, want := range []string{"$chocopy_main", "f", "self", "tmp"} {
		assert.True(t, bytes.Contains(recs.Records, append([]byte(want), 0)), "missing %q in CodeView stream", want)
	}

	// Records remain walkable: each starts with its own length.
	data := recs.Records
	count := 0
	for len(data) >= 4 {
		reclen := binary.LittleEndian.Uint16(data[:2])
		require.LessOrEqual(t, int(2+reclen), len(data))
		data = data[2+reclen:]
		count++
	}
	assert.Empty(t, data)
	assert.GreaterOrEqual(t, count, 4)
}

func TestDeterministicDebugInfo(t *testing.T) {
	a := BuildDWARF(testProgram())
	b := BuildDWARF(testProgram())
	assert.Equal(t, a.Info, b.Info)
	assert.Equal(t, a.Abbrev, b.Abbrev)
	assert.Equal(t, a.Line, b.Line)
}
