package compiler

import (
	"sort"

	"github.com/chocopy-lang/chocopy/pkg/codegen"
	"github.com/chocopy-lang/chocopy/pkg/debuginfo"
	"github.com/chocopy-lang/chocopy/pkg/objfile"
	"github.com/chocopy-lang/chocopy/pkg/sema"
	"github.com/chocopy-lang/chocopy/pkg/types"
)

const funcAlign = 16

// relocKind translates codegen's format-neutral relocation kinds into
// objfile's (kept as separate types so pkg/objfile never imports
// pkg/codegen; this package is the only one that sees both).
func relocKind(k codegen.RelocKind) objfile.RelocKind {
	switch k {
	case codegen.Abs64:
		return objfile.Abs64
	case codegen.Abs32:
		return objfile.Abs32
	default:
		return objfile.Rel32
	}
}

func appendBuffer(sect *objfile.Section, buf *codegen.Buffer, align int64) int64 {
	for int64(len(sect.Data))%align != 0 {
		sect.Data = append(sect.Data, 0)
	}
	base := int64(len(sect.Data))
	sect.Data = append(sect.Data, buf.Bytes()...)
	for _, r := range buf.Relocs() {
		sect.Relocs = append(sect.Relocs, objfile.Reloc{
			Offset: base + r.Offset,
			Symbol: r.Symbol,
			Kind:   relocKind(r.Kind),
			Addend: r.Addend,
		})
	}
	return base
}

// buildImage lays the generated Module out into the format-neutral
// compiled unit of §3: .text holds every function 16-byte aligned,
// .rodata the prototype records, .data the static str objects, .bss
// one 8-byte slot per module global, plus the DWARF or CodeView debug
// sections for the target platform.
func buildImage(mod *codegen.Module, dbgProg *debuginfo.Program, src []byte, opts Options) *objfile.Image {
	img := objfile.NewImage()
	img.BuildID = BuildID(src)

	text := img.Section(".text", objfile.SectText)
	for _, sym := range mod.FuncOrder {
		base := appendBuffer(text, mod.Functions[sym], funcAlign)
		img.AddSymbol(objfile.Symbol{Name: sym, Binding: objfile.Global, Section: ".text", Value: base})
	}

	rodata := img.Section(".rodata", objfile.SectRodata)
	var protoNames []string
	for name := range mod.Prototypes {
		protoNames = append(protoNames, name)
	}
	sort.Strings(protoNames)
	for _, name := range protoNames {
		base := appendBuffer(rodata, mod.Prototypes[name], 8)
		img.AddSymbol(objfile.Symbol{Name: name, Binding: objfile.Global, Section: ".rodata", Value: base})
	}

	if len(mod.StrOrder) > 0 {
		data := img.Section(".data", objfile.SectData)
		for _, name := range mod.StrOrder {
			base := appendBuffer(data, mod.Strings[name], 8)
			img.AddSymbol(objfile.Symbol{Name: name, Binding: objfile.Local, Section: ".data", Value: base})
		}
	}

	if len(mod.Globals) > 0 {
		bss := img.Section(".bss", objfile.SectBSS)
		for _, g := range mod.Globals {
			img.AddSymbol(objfile.Symbol{Name: g.Symbol, Binding: objfile.Global, Section: ".bss", Value: bss.Size})
			bss.Size += int64(g.Size)
		}
	}

	if !opts.NoDebugInfo {
		addDebugSections(img, dbgProg, opts)
	}

	addExterns(img)
	return img
}

// addDebugSections renders §4.H's side channel: DWARF sections for
// ELF/Mach-O, a CodeView record stream (prefixed by the PDB70 GUID+age
// the linked PE's debug directory will reference) for Windows.
func addDebugSections(img *objfile.Image, dbgProg *debuginfo.Program, opts Options) {
	if opts.Platform == PlatformWindows {
		recs, guidAge := debuginfo.BuildPDB(dbgProg, debuginfo.PDBBuildID{GUID: img.BuildID, Age: 1})
		s := img.Section(".debug$S", objfile.SectDebug)
		s.Data = append(s.Data, guidAge...)
		s.Data = append(s.Data, recs.Records...)
		return
	}
	dw := debuginfo.BuildDWARF(dbgProg)
	img.Section(".debug_abbrev", objfile.SectDebug).Data = dw.Abbrev
	img.Section(".debug_info", objfile.SectDebug).Data = dw.Info
	img.Section(".debug_line", objfile.SectDebug).Data = dw.Line
	if len(dw.Str) > 0 {
		img.Section(".debug_str", objfile.SectDebug).Data = dw.Str
	}
}

// addExterns declares every relocation target not defined in the image
// as an undefined external symbol, resolved by the system linker
// against the runtime library (§4.G).
func addExterns(img *objfile.Image) {
	defined := map[string]bool{}
	for _, s := range img.Symbols {
		defined[s.Name] = true
	}
	seen := map[string]bool{}
	var externs []string
	for _, s := range img.Sections {
		for _, r := range s.Relocs {
			if !defined[r.Symbol] && !seen[r.Symbol] {
				seen[r.Symbol] = true
				externs = append(externs, r.Symbol)
			}
		}
	}
	sort.Strings(externs)
	for _, name := range externs {
		img.AddSymbol(objfile.Symbol{Name: name, Binding: objfile.Extern})
	}
}

// buildDebugProgram assembles the whole-unit debug description from
// the generator's per-function records plus the class table.
func buildDebugProgram(path string, mod *codegen.Module, res *sema.Result) *debuginfo.Program {
	p := &debuginfo.Program{Path: path}
	for _, sym := range mod.FuncOrder {
		if d := mod.Debug[sym]; d != nil {
			p.Functions = append(p.Functions, *d)
		}
	}
	var classNames []string
	for name := range res.Classes.All() {
		switch name {
		case types.ObjectClass, types.IntClass, types.BoolClass, types.StrClass:
			continue
		}
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		ci := res.Classes.Lookup(name)
		ct := debuginfo.ClassType{Name: ci.Name, Parent: ci.Parent, Size: ci.Size}
		for _, a := range ci.Attrs {
			ct.Attrs = append(ct.Attrs, debuginfo.Var{
				Name:        a.Name,
				Type:        a.Type.String(),
				FrameOffset: int32(a.Offset),
			})
		}
		p.Classes = append(p.Classes, ct)
	}
	return p
}
