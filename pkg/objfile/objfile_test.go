package objfile

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/internal/random"
)

// testImage builds a small but representative image: text with one
// defined global function and calls against two externs, rodata, data,
// bss, and every relocation kind.
func testImage() *Image {
	img := NewImage()
	img.BuildID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fixture"))

	text := img.Section(".text", SectText)
	text.Data = random.Bytes(64)
	text.Relocs = []Reloc{
		{Offset: 4, Symbol: "$print_int", Kind: Rel32},
		{Offset: 12, Symbol: "$alloc_obj", Kind: Rel32},
		{Offset: 20, Symbol: "$A$proto", Kind: Rel32},
	}

	rodata := img.Section(".rodata", SectRodata)
	rodata.Data = make([]byte, 32)
	rodata.Relocs = []Reloc{{Offset: 8, Symbol: "$chocopy_main", Kind: Abs64}}

	data := img.Section(".data", SectData)
	data.Data = random.Bytes(16)

	bss := img.Section(".bss", SectBSS)
	bss.Size = 24

	img.AddSymbol(Symbol{Name: "$str$0", Binding: Local, Section: ".data", Value: 0})
	img.AddSymbol(Symbol{Name: "$chocopy_main", Binding: Global, Section: ".text", Value: 0})
	img.AddSymbol(Symbol{Name: "$A$proto", Binding: Global, Section: ".rodata", Value: 0})
	img.AddSymbol(Symbol{Name: "counter", Binding: Global, Section: ".bss", Value: 0})
	img.AddSymbol(Symbol{Name: "$print_int", Binding: Extern})
	img.AddSymbol(Symbol{Name: "$alloc_obj", Binding: Extern})
	return img
}

func TestWriteELF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteELF(&buf, testImage()))

	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, elf.ET_REL, f.Type)
	assert.Equal(t, elf.EM_X86_64, f.Machine)

	names := map[string]bool{}
	for _, s := range f.Sections {
		names[s.Name] = true
	}
	for _, want := range []string{".text", ".rodata", ".data", ".bss", ".symtab", ".strtab", ".rela.text", ".note.gnu.build-id"} {
		assert.True(t, names[want], "missing section %s", want)
	}

	syms, err := f.Symbols()
	require.NoError(t, err)
	bySym := map[string]elf.Symbol{}
	for _, s := range syms {
		bySym[s.Name] = s
	}
	require.Contains(t, bySym, "$chocopy_main")
	require.Contains(t, bySym, "$print_int")
	assert.Equal(t, elf.SHN_UNDEF, elf.SectionIndex(bySym["$print_int"].Section), "externs stay undefined")
	assert.NotEqual(t, elf.SHN_UNDEF, elf.SectionIndex(bySym["$chocopy_main"].Section))
}

func TestELFRelocationAddends(t *testing.T) {
	var buf bytes.Buffer
	img := testImage()
	require.NoError(t, WriteELF(&buf, img))
	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rela := f.Section(".rela.text")
	require.NotNil(t, rela)
	data, err := rela.Data()
	require.NoError(t, err)
	require.Equal(t, 3*24, len(data))
	// PC32 entries fold the in-place convention's 4-byte bias into the
	// explicit addend.
	for i := 0; i < 3; i++ {
		addend := int64(binary.LittleEndian.Uint64(data[i*24+16:]))
		assert.Equal(t, int64(-4), addend)
	}
}

func TestWritePECOFF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePECOFF(&buf, testImage()))

	f, err := pe.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, uint16(0x8664), f.Machine)
	names := map[string]bool{}
	for _, s := range f.Sections {
		names[s.Name] = true
	}
	for _, want := range []string{".text", ".rodata", ".data", ".bss"} {
		assert.True(t, names[want], "missing section %s", want)
	}

	found := map[string]bool{}
	for _, s := range f.COFFSymbols {
		n, err := s.FullName(f.StringTable)
		require.NoError(t, err)
		found[n] = true
	}
	for _, want := range []string{"$chocopy_main", "$print_int", "counter", "$str$0"} {
		assert.True(t, found[want], "missing symbol %s", want)
	}
}

func TestWriteMachO(t *testing.T) {
	var buf bytes.Buffer
	img := testImage()
	require.NoError(t, WriteMachO(&buf, img))

	f, err := macho.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, macho.TypeObj, f.Type)
	assert.Equal(t, macho.CpuAmd64, f.Cpu)

	names := map[string]bool{}
	for _, s := range f.Sections {
		names[s.Seg+"/"+s.Name] = true
	}
	for _, want := range []string{"__TEXT/__text", "__TEXT/__const", "__DATA/__data", "__DATA/__bss"} {
		assert.True(t, names[want], "missing section %s", want)
	}

	require.NotNil(t, f.Symtab)
	found := map[string]bool{}
	for _, s := range f.Symtab.Syms {
		found[s.Name] = true
	}
	for _, want := range []string{"$chocopy_main", "$print_int"} {
		assert.True(t, found[want], "missing symbol %s", want)
	}

	// LC_UUID carries the build id.
	assert.Contains(t, string(buf.Bytes()), string(img.BuildID[:]))
}

func TestDeterministicEncoding(t *testing.T) {
	img := testImage()
	for name, write := range map[string]func(*bytes.Buffer, *Image) error{
		"elf":   func(b *bytes.Buffer, i *Image) error { return WriteELF(b, i) },
		"pe":    func(b *bytes.Buffer, i *Image) error { return WritePECOFF(b, i) },
		"macho": func(b *bytes.Buffer, i *Image) error { return WriteMachO(b, i) },
	} {
		var a, b bytes.Buffer
		require.NoError(t, write(&a, img), name)
		require.NoError(t, write(&b, img), name)
		assert.Equal(t, a.Bytes(), b.Bytes(), "%s encoding must be deterministic", name)
	}
}

func TestSectionAccessors(t *testing.T) {
	img := NewImage()
	s1 := img.Section(".text", SectText)
	s2 := img.Section(".text", SectText)
	assert.Same(t, s1, s2)

	bss := img.Section(".bss", SectBSS)
	bss.Size = 40
	assert.Equal(t, int64(40), bss.effectiveSize())
	s1.Data = []byte{1, 2, 3}
	assert.Equal(t, int64(3), s1.effectiveSize())
}

func TestRelocAgainstUnknownSymbolFails(t *testing.T) {
	img := NewImage()
	text := img.Section(".text", SectText)
	text.Data = []byte{0, 0, 0, 0}
	text.Relocs = []Reloc{{Offset: 0, Symbol: "$nowhere", Kind: Rel32}}
	var buf bytes.Buffer
	err := WriteELF(&buf, img)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$nowhere")
}
