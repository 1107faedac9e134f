package pipeline

import (
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

// HashedVectors gives every word a fixed pseudo-random vector derived from
// the xxhash of the word. It stands in for pretrained word embeddings when
// none are loaded.
type HashedVectors struct {
	Dim  int
	Seed uint64
}

// Fill writes the vector of word into dst, which must have length Dim.
// Components are N(0, 1/Dim).
func (h HashedVectors) Fill(dst []float64, word string) {
	rng := rand.New(rand.NewPCG(xxhash.Sum64String(word), h.Seed))
	scale := 1 / math.Sqrt(float64(h.Dim))
	for i := range dst[:h.Dim] {
		dst[i] = rng.NormFloat64() * scale
	}
}
