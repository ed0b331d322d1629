// Package chromem implements memory.VectorIndex with chromem-go, a pure Go
// embedded vector database. It indexes knowledge entries for the long-term
// store's similarity search.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memoryos/memoryos-go/core"
	"github.com/memoryos/memoryos-go/memory"
)

// Index is a chromem-backed vector index over knowledge entries.
type Index struct {
	mu  sync.Mutex
	col *chromem.Collection
}

// New creates an in-memory index with its own collection. The collection
// receives precomputed embeddings, so no embedding function is attached.
func New(name string) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{col: col}, nil
}

// Add indexes a knowledge entry under its ID.
func (i *Index) Add(ctx context.Context, entry core.KnowledgeEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.col.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Knowledge,
		Embedding: entry.Embedding,
		Metadata:  map[string]string{"timestamp": entry.Timestamp},
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove drops an entry from the index. Used when FIFO eviction expires
// the backing knowledge entry.
func (i *Index) Remove(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query returns up to topK matches sorted by similarity descending.
// chromem requires nResults <= collection size, so the limit is clamped;
// an empty collection returns no matches.
func (i *Index) Query(ctx context.Context, embedding []float32, topK int) ([]memory.IndexMatch, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	count := i.col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := i.col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	matches := make([]memory.IndexMatch, len(results))
	for n, r := range results {
		matches[n] = memory.IndexMatch{ID: r.ID, Score: float64(r.Similarity)}
	}
	return matches, nil
}
