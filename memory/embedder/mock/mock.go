// Package mock provides a deterministic embedder for tests and local runs
// without model files. Vectors are hash-seeded unit vectors: identical text
// always embeds identically, and self-similarity is exactly 1.0, but there
// is no real semantic similarity between different texts.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/memoryos/memoryos-go/memory"
)

// Embedder generates deterministic pseudo-random unit vectors.
type Embedder struct {
	dims int
}

// New creates a mock embedder. dims <= 0 defaults to 384
// (all-MiniLM-L6-v2's size, so it can stand in for the real local model).
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dims: dims}
}

// Embed hashes the text and expands the hash into a normalized vector with
// a linear congruential generator.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return memory.Normalize(vec), nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}
