// Command chocopyc is a thin entry point over pkg/compiler: it compiles
// one ChocoPy source file into a relocatable object for the selected
// platform. Linking against the runtime library, `--ast`/`--typed` JSON
// dumps and the rest of the driver surface live in the external driver;
// this binary exists to exercise the core end to end.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chocopy-lang/chocopy/pkg/compiler"
)

func main() {
	platform := flag.String("platform", "linux", "object format: linux, windows or macos")
	noDebug := flag.Bool("no-debug", false, "omit DWARF/CodeView debug sections")
	verbose := flag.Bool("v", false, "log compilation stages")
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: chocopyc [flags] <input.py> <output.o>")
		os.Exit(2)
	}
	input, output := flag.Arg(0), flag.Arg(1)

	opts := compiler.Options{NoDebugInfo: *noDebug}
	switch *platform {
	case "linux":
		opts.Platform = compiler.PlatformLinux
	case "windows":
		opts.Platform = compiler.PlatformWindows
	case "macos":
		opts.Platform = compiler.PlatformMacOS
	default:
		fmt.Fprintf(os.Stderr, "chocopyc: unknown platform %q\n", *platform)
		os.Exit(2)
	}
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "chocopyc: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		opts.Logger = logger
	}

	src, err := os.ReadFile(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chocopyc: %v\n", err)
		os.Exit(1)
	}

	obj, err := compiler.Compile(input, src, opts)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(1)
	}
	if err := os.WriteFile(output, obj, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "chocopyc: %v\n", err)
		os.Exit(1)
	}
}
