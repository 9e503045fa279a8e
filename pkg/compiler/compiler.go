// Package compiler ties the ChocoPy compilation pipeline together:
// lexer and parser, the two-pass semantic analyzer, the x86-64 code
// generator, and the object-file writers, per the flow in §2
// (source → A → B → C+D → F+E → G (+H)). It is the only package that
// knows all the others; callers (the external CLI driver) see just
// Compile/CompileWithDebugInfo and Options.
package compiler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chocopy-lang/chocopy/pkg/codegen"
	"github.com/chocopy-lang/chocopy/pkg/debuginfo"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/objfile"
	"github.com/chocopy-lang/chocopy/pkg/parser"
	"github.com/chocopy-lang/chocopy/pkg/sema"
)

// Platform selects the object-file container format (§4.G). The
// default zero value targets ELF; cross-emission changes only the final
// encode step, never the generated code.
type Platform int

// Supported platforms.
const (
	PlatformLinux Platform = iota
	PlatformWindows
	PlatformMacOS
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "windows"
	case PlatformMacOS:
		return "macos"
	default:
		return "linux"
	}
}

// Options configures one compiler invocation. The zero value compiles
// for ELF with debug info and no logging.
type Options struct {
	Platform Platform

	// NoDebugInfo suppresses the DWARF/CodeView side channel (§4.H);
	// the default carries it, matching the external driver's contract.
	NoDebugInfo bool

	// Logger receives structured per-stage tracing; nil means no
	// logging.
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Compile compiles ChocoPy source into a relocatable object file for
// opts.Platform, returning the encoded bytes. A nil error means the
// program was fully accepted; any lexical, syntactic or semantic error
// makes Compile return every accumulated diagnostic (§7: no object
// file is written after an error) combined into one error value.
func Compile(path string, src []byte, opts Options) ([]byte, error) {
	obj, _, err := CompileWithDebugInfo(path, src, opts)
	return obj, err
}

// CompileWithDebugInfo is Compile plus the source-level debug
// description the object's debug sections were rendered from, for
// callers that post-process it (e.g. a PDB-writing link step on
// Windows).
func CompileWithDebugInfo(path string, src []byte, opts Options) ([]byte, *debuginfo.Program, error) {
	log := opts.logger()
	diags := diag.NewBag(path)

	start := time.Now()
	prog := parser.Parse(path, src, diags)
	log.Debug("parsed", zap.String("path", path), zap.Duration("took", time.Since(start)))
	if diags.HasErrors() {
		return nil, nil, diagError(diags)
	}

	start = time.Now()
	res := sema.Analyze(path, prog, diags)
	log.Debug("analyzed", zap.Duration("took", time.Since(start)))
	if diags.HasErrors() {
		return nil, nil, diagError(diags)
	}

	start = time.Now()
	mod := codegen.NewGenerator(res).Generate(prog)
	log.Debug("generated",
		zap.Int("functions", len(mod.Functions)),
		zap.Int("prototypes", len(mod.Prototypes)),
		zap.Duration("took", time.Since(start)))

	dbgProg := buildDebugProgram(path, mod, res)
	img := buildImage(mod, dbgProg, src, opts)

	var out bytes.Buffer
	var err error
	switch opts.Platform {
	case PlatformWindows:
		err = objfile.WritePECOFF(&out, img)
	case PlatformMacOS:
		err = objfile.WriteMachO(&out, img)
	default:
		err = objfile.WriteELF(&out, img)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("writing %s object: %w", opts.Platform, err)
	}
	log.Debug("wrote object", zap.String("platform", opts.Platform.String()), zap.Int("bytes", out.Len()))
	return out.Bytes(), dbgProg, nil
}

// BuildID derives the deterministic build identifier stamped into the
// object (Mach-O LC_UUID, ELF .note.gnu.build-id, PDB70 GUID). Hashing
// the source keeps two invocations over identical input byte-identical
// (§8, determinism) while still distinguishing different programs.
func BuildID(src []byte) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, src)
}

func diagError(diags *diag.Bag) error {
	var err error
	for _, d := range diags.Items() {
		err = multierr.Append(err, d)
	}
	return err
}
