// Package testserdes holds the round-trip helpers the package tests
// share: parse→print→reparse for AST fixpoint checks, JSON
// marshal/unmarshal symmetry, and diffable dump comparison.
package testserdes

import (
	"encoding/json"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"

	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/parser"
)

// MustParse parses src and fails the test on any lexical or syntactic
// diagnostic.
func MustParse(t *testing.T, path string, src []byte) *ast.Program {
	t.Helper()
	diags := diag.NewBag(path)
	prog := parser.Parse(path, src, diags)
	for _, d := range diags.Items() {
		t.Errorf("unexpected diagnostic: %v", d)
	}
	require.False(t, diags.HasErrors())
	return prog
}

// ReparseRoundtrip checks that parse → print → re-parse reaches a
// fixpoint: the canonical printout of the re-parsed tree is identical
// to the first (source spans aside, printing is a faithful rendering of
// the untyped AST, so print equality is tree equality). Returns the
// first parse for further inspection.
func ReparseRoundtrip(t *testing.T, path string, src []byte) *ast.Program {
	t.Helper()
	first := MustParse(t, path, src)
	printed := ast.Print(first)
	second := MustParse(t, path+"#reprint", []byte(printed))
	reprinted := ast.Print(second)
	if printed != reprinted {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(printed),
			B:        difflib.SplitLines(reprinted),
			FromFile: "first print",
			ToFile:   "second print",
			Context:  3,
		})
		t.Fatalf("AST round-trip diverged:\n%s", diff)
	}
	return first
}

// MarshalUnmarshalJSON checks that expected stays the same after a
// marshal/unmarshal trip via JSON, dumping both values on mismatch.
func MarshalUnmarshalJSON(t *testing.T, expected, actual interface{}) {
	t.Helper()
	data, err := json.Marshal(expected)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, actual))
	RequireEqualDump(t, expected, actual)
}

// RequireEqualDump compares two values through go-spew dumps, rendering
// a unified diff on mismatch so large trees stay readable.
func RequireEqualDump(t *testing.T, expected, actual interface{}) {
	t.Helper()
	e, a := spew.Sdump(expected), spew.Sdump(actual)
	if e == a {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A: difflib.SplitLines(e), B: difflib.SplitLines(a),
		FromFile: "expected", ToFile: "actual", Context: 3,
	})
	t.Fatalf("values differ:\n%s", diff)
}
