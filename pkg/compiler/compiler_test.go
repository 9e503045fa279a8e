package compiler_test

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/chocopy-lang/chocopy/internal/corpus"
	"github.com/chocopy-lang/chocopy/pkg/compiler"
)

func TestCompileScenariosAllPlatforms(t *testing.T) {
	platforms := []compiler.Platform{compiler.PlatformLinux, compiler.PlatformWindows, compiler.PlatformMacOS}
	for _, p := range corpus.Load(t, "scenarios") {
		p := p
		for _, plat := range platforms {
			plat := plat
			t.Run(p.Name+"/"+plat.String(), func(t *testing.T) {
				obj, err := compiler.Compile(p.Name+".py", p.Source, compiler.Options{Platform: plat})
				require.NoError(t, err)
				require.NotEmpty(t, obj)
				switch plat {
				case compiler.PlatformLinux:
					f, err := elf.NewFile(bytes.NewReader(obj))
					require.NoError(t, err)
					f.Close()
				case compiler.PlatformWindows:
					f, err := pe.NewFile(bytes.NewReader(obj))
					require.NoError(t, err)
					f.Close()
				case compiler.PlatformMacOS:
					f, err := macho.NewFile(bytes.NewReader(obj))
					require.NoError(t, err)
					f.Close()
				}
			})
		}
	}
}

// Two invocations over identical input produce byte-identical objects
// (§8, property 2): the build id is derived from the source, and every
// emission order is fixed.
func TestCompileDeterministic(t *testing.T) {
	for _, p := range corpus.Load(t, "scenarios") {
		p := p
		t.Run(p.Name, func(t *testing.T) {
			a, err := compiler.Compile(p.Name+".py", p.Source, compiler.Options{})
			require.NoError(t, err)
			b, err := compiler.Compile(p.Name+".py", p.Source, compiler.Options{})
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestCompileErrorsReported(t *testing.T) {
	for _, p := range corpus.Load(t, "errors") {
		p := p
		t.Run(p.Name, func(t *testing.T) {
			obj, err := compiler.Compile(p.Name+".py", p.Source, compiler.Options{})
			require.Error(t, err)
			assert.Nil(t, obj, "no object may be produced after an error")
			for _, want := range p.Errors {
				found := false
				for _, e := range multierr.Errors(err) {
					if strings.Contains(e.Error(), want) {
						found = true
						break
					}
				}
				assert.True(t, found, "no diagnostic contains %q: %v", want, err)
			}
		})
	}
}

func TestSyntaxErrorsReported(t *testing.T) {
	_, err := compiler.Compile("bad.py", []byte("def f(:\n    pass\n"), compiler.Options{})
	require.Error(t, err)
}

func TestRuntimeExternsDeclared(t *testing.T) {
	src := []byte("l:[int] = None\nl = [1, 2, 3]\nprint(l[1])\n")
	obj, err := compiler.Compile("list.py", src, compiler.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	f, err := elf.NewFile(bytes.NewReader(obj))
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)
	defined := map[string]bool{}
	undefined := map[string]bool{}
	for _, s := range syms {
		if s.Section == elf.SHN_UNDEF {
			undefined[s.Name] = true
		} else {
			defined[s.Name] = true
		}
	}
	for _, want := range []string{"$chocopy_main", "l"} {
		assert.True(t, defined[want], "expected defined symbol %s", want)
	}
	for _, want := range []string{"$new_list", "$list_getitem", "$list_setitem", "$print_int", "$retain", "$release"} {
		assert.True(t, undefined[want], "expected runtime extern %s", want)
	}
}

func TestDebugSectionsPerPlatform(t *testing.T) {
	src := []byte("x:int = 1\nprint(x)\n")

	obj, err := compiler.Compile("dbg.py", src, compiler.Options{Platform: compiler.PlatformLinux})
	require.NoError(t, err)
	ef, err := elf.NewFile(bytes.NewReader(obj))
	require.NoError(t, err)
	defer ef.Close()
	for _, want := range []string{".debug_info", ".debug_abbrev", ".debug_line"} {
		assert.NotNil(t, ef.Section(want), "missing %s", want)
	}

	obj, err = compiler.Compile("dbg.py", src, compiler.Options{Platform: compiler.PlatformWindows})
	require.NoError(t, err)
	pf, err := pe.NewFile(bytes.NewReader(obj))
	require.NoError(t, err)
	defer pf.Close()
	var hasDebugS bool
	for _, s := range pf.Sections {
		if s.Name == ".debug$S" {
			hasDebugS = true
		}
	}
	assert.True(t, hasDebugS)

	obj, err = compiler.Compile("dbg.py", src, compiler.Options{Platform: compiler.PlatformLinux, NoDebugInfo: true})
	require.NoError(t, err)
	ef2, err := elf.NewFile(bytes.NewReader(obj))
	require.NoError(t, err)
	defer ef2.Close()
	assert.Nil(t, ef2.Section(".debug_info"))
}

func TestBuildIDStamped(t *testing.T) {
	src := []byte("print(0)\n")
	obj, err := compiler.Compile("id.py", src, compiler.Options{Platform: compiler.PlatformMacOS})
	require.NoError(t, err)
	id := compiler.BuildID(src)
	assert.True(t, bytes.Contains(obj, id[:]), "Mach-O LC_UUID must carry the source-derived build id")

	other := compiler.BuildID([]byte("print(1)\n"))
	assert.NotEqual(t, id, other)
}

func TestCompileWithDebugInfoProgram(t *testing.T) {
	src := []byte("class A(object):\n    x:int = 0\ndef f(n:int) -> int:\n    m:int = 2\n    return n * m\na:A = None\nprint(f(3))\n")
	_, dbg, err := compiler.CompileWithDebugInfo("prog.py", src, compiler.Options{})
	require.NoError(t, err)
	require.NotNil(t, dbg)
	assert.Equal(t, "prog.py", dbg.Path)

	names := map[string]bool{}
	for _, fn := range dbg.Functions {
		names[fn.Symbol] = true
	}
	assert.True(t, names["f"])
	assert.True(t, names["$chocopy_main"])

	require.Len(t, dbg.Classes, 1)
	assert.Equal(t, "A", dbg.Classes[0].Name)
	require.Len(t, dbg.Classes[0].Attrs, 1)
	assert.Equal(t, "x", dbg.Classes[0].Attrs[0].Name)
}
