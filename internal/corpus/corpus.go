// Package corpus serves the golden ChocoPy programs the package tests
// compile and inspect. Each txtar archive under testdata holds several
// scenarios: "<name>.py" is the source, "<name>.out" the stdout the
// linked executable must print (kept alongside for the runtime's own
// test harness), and "<name>.errors" substrings that must appear in the
// compiler's diagnostics for reject-cases.
package corpus

import (
	"embed"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

//go:embed testdata/*.txtar
var testdata embed.FS

// Program is one golden scenario.
type Program struct {
	Name   string
	Source []byte
	// Stdout is the expected output of the linked executable, empty for
	// reject-cases.
	Stdout []byte
	// Errors lists substrings that must each match some diagnostic;
	// empty for accept-cases.
	Errors []string
}

// Load returns every scenario in testdata/<archive>.txtar.
func Load(t *testing.T, archive string) []Program {
	t.Helper()
	raw, err := testdata.ReadFile("testdata/" + archive + ".txtar")
	if err != nil {
		t.Fatalf("corpus: %v", err)
	}
	ar := txtar.Parse(raw)

	byName := map[string]*Program{}
	var order []string
	get := func(name string) *Program {
		p, ok := byName[name]
		if !ok {
			p = &Program{Name: name}
			byName[name] = p
			order = append(order, name)
		}
		return p
	}
	for _, f := range ar.Files {
		switch {
		case strings.HasSuffix(f.Name, ".py"):
			get(strings.TrimSuffix(f.Name, ".py")).Source = f.Data
		case strings.HasSuffix(f.Name, ".out"):
			get(strings.TrimSuffix(f.Name, ".out")).Stdout = f.Data
		case strings.HasSuffix(f.Name, ".errors"):
			p := get(strings.TrimSuffix(f.Name, ".errors"))
			for _, line := range strings.Split(strings.TrimSpace(string(f.Data)), "\n") {
				if line != "" {
					p.Errors = append(p.Errors, line)
				}
			}
		}
	}

	var out []Program
	for _, name := range order {
		p := byName[name]
		if p.Source == nil {
			t.Fatalf("corpus: scenario %q in %s.txtar has no .py file", name, archive)
		}
		out = append(out, *p)
	}
	return out
}
