// Package random supplies reproducible pseudo-random test inputs
// (identifiers, ASCII payloads) for the fuzz-ish package tests. The
// generator is fixed-seeded: the same test binary always sees the same
// inputs, keeping failures replayable.
package random

import "math/rand"

var rng = rand.New(rand.NewSource(1))

// Ident returns a random plausible ChocoPy identifier of length n.
func Ident(n int) string {
	const head = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_"
	const tail = head + "0123456789"
	b := make([]byte, n)
	b[0] = head[rng.Intn(len(head))]
	for i := 1; i < n; i++ {
		b[i] = tail[rng.Intn(len(tail))]
	}
	return string(b)
}

// String returns a random string of printable ASCII (no quotes or
// backslashes, so it can embed directly into a ChocoPy string literal).
func String(n int) string {
	b := make([]byte, n)
	for i := range b {
		c := byte(rng.Intn(0x7f - 0x20))
		c += 0x20
		if c == '"' || c == '\\' {
			c = ' '
		}
		b[i] = c
	}
	return string(b)
}

// Bytes returns a random byte slice of length n.
func Bytes(n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// Int returns a random integer in [min,max).
func Int(min, max int) int {
	return min + rng.Intn(max-min)
}
