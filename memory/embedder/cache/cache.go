// Package cache wraps any Embedder with a ristretto-backed memoization
// layer. Embedding is the dominant suspension point in the memory pipeline
// and the same texts recur (retrieval re-embeds queries, consolidation
// re-embeds knowledge), so caching pays for itself quickly.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/memoryos/memoryos-go/memory"
)

// Embedder is a caching decorator over an inner Embedder.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner with a cache sized for roughly maxEntries vectors.
// maxEntries <= 0 defaults to 1024.
func New(inner memory.Embedder, maxEntries int) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cost := int64(inner.Dimensions() * 4)
	if cost == 0 {
		cost = 4 * 384
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries) * cost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, delegating to the inner
// embedder on miss. Cached vectors are shared; callers must not mutate
// returned slices.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Wait blocks until buffered cache writes are applied. Ristretto admits
// entries asynchronously; call this when a subsequent Get must see them.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}
