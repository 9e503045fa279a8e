// Package diag implements compile-time diagnostic collection and printing
// for the ChocoPy compiler core, per the error handling taxonomy
// (lexical, syntactic, semantic, ICE) described in the specification.
package diag

import (
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/term"

	"github.com/chocopy-lang/chocopy/pkg/token"
)

// Severity classifies a Diagnostic per the compile-time error taxonomy.
type Severity int

// Severities, in the order they are reported within a single pass.
const (
	Lexical Severity = iota
	Syntactic
	Semantic
	ICE
)

func (s Severity) String() string {
	switch s {
	case Lexical:
		return "lexical error"
	case Syntactic:
		return "syntax error"
	case Semantic:
		return "error"
	case ICE:
		return "internal compiler error"
	default:
		return "error"
	}
}

// Diagnostic is a single reported problem: (path, line, column, message).
type Diagnostic struct {
	Path     string
	Span     token.Span
	Severity Severity
	Message  string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s:%s: %s: %s", d.Path, d.Span, d.Severity, d.Message)
}

// Bag accumulates diagnostics across an entire pass so that, per §4.D,
// "errors are accumulated" rather than aborting at the first one found.
type Bag struct {
	path  string
	items []Diagnostic
}

// NewBag creates an empty diagnostic bag for the named source file.
func NewBag(path string) *Bag {
	return &Bag{path: path}
}

// Add records a new diagnostic.
func (b *Bag) Add(sev Severity, sp token.Span, format string, args ...any) {
	b.items = append(b.items, Diagnostic{
		Path:     b.path,
		Span:     sp,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

// HasErrors reports whether any diagnostic was recorded.
func (b *Bag) HasErrors() bool {
	return len(b.items) > 0
}

// Items returns the accumulated diagnostics sorted by source position.
func (b *Bag) Items() []Diagnostic {
	out := make([]Diagnostic, len(b.items))
	copy(out, b.items)
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i].Span, out[j].Span
		if a.StartLine != c.StartLine {
			return a.StartLine < c.StartLine
		}
		return a.StartCol < c.StartCol
	})
	return out
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// Print writes every accumulated diagnostic to w, one per line, colorizing
// the severity tag when w is a terminal (checked via golang.org/x/term).
func (b *Bag) Print(w io.Writer) {
	colorize := false
	if f, ok := w.(*os.File); ok {
		colorize = term.IsTerminal(int(f.Fd()))
	}
	for _, d := range b.Items() {
		if colorize {
			color := colorYellow
			if d.Severity == Semantic || d.Severity == ICE {
				color = colorRed
			}
			fmt.Fprintf(w, "%s:%s: %s%s%s: %s\n", d.Path, d.Span, color, d.Severity, colorReset, d.Message)
			continue
		}
		fmt.Fprintln(w, d.Error())
	}
}
