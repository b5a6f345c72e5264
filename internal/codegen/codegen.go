// Package codegen generates short room codes from an alphabet with the
// visually ambiguous glyphs (0/O, 1/I/L) removed, retrying on collision
// against whatever existence check the caller supplies.
package codegen

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
)

const DefaultAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Generator produces codes of a fixed length from a fixed alphabet.
type Generator struct {
	Length   int
	Alphabet string
}

func New(length int, alphabet string) *Generator {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if length <= 0 {
		length = 6
	}
	return &Generator{Length: length, Alphabet: alphabet}
}

// Generate returns one candidate code. It prefers crypto/rand for
// uniformity and falls back to math/rand only if the system CSPRNG read
// fails, which in practice never happens outside of constrained sandboxes.
func (g *Generator) Generate() string {
	code := make([]byte, g.Length)
	n := len(g.Alphabet)
	for i := range code {
		idx, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
		if err != nil {
			code[i] = g.Alphabet[rand.Intn(n)]
			continue
		}
		code[i] = g.Alphabet[idx.Int64()]
	}
	return string(code)
}

// Unique keeps generating until exists reports false for a candidate.
func (g *Generator) Unique(exists func(code string) bool) string {
	for {
		code := g.Generate()
		if !exists(code) {
			return code
		}
	}
}
