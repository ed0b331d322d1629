package memory

import (
	"context"
	"log"
	"sync"

	"github.com/memoryos/memoryos-go/core"
)

// ContextBundle is the unified retrieval result fed to prompt construction.
type ContextBundle struct {
	// History is the raw short-term buffer, always included.
	History []core.Interaction

	// Pages are mid-term interaction excerpts from sessions whose
	// similarity to the query cleared the mid-term threshold.
	Pages []RetrievedPage

	// UserKnowledge and AssistantKnowledge are long-term search hits from
	// the two scopes.
	UserKnowledge      []core.KnowledgeEntry
	AssistantKnowledge []core.KnowledgeEntry
}

// Retriever fans a query out across the three tiers and merges results.
// Retrieval is read-only except that matched mid-term sessions are visited,
// which feeds their heat.
type Retriever struct {
	cfg       *Config
	logger    *log.Logger
	embedder  Embedder
	short     *ShortTermBuffer
	mid       *MidTermStore
	user      *LongTermStore
	assistant *LongTermStore
}

// NewRetriever wires a retriever over the given tiers.
func NewRetriever(cfg *Config, embedder Embedder, short *ShortTermBuffer, mid *MidTermStore, user, assistant *LongTermStore) *Retriever {
	return &Retriever{
		cfg:       cfg,
		logger:    cfg.Logger,
		embedder:  embedder,
		short:     short,
		mid:       mid,
		user:      user,
		assistant: assistant,
	}
}

// RetrieveContext queries all tiers and merges the results. A failing tier
// degrades to its empty result rather than failing the whole query; the
// short-term history is always present.
func (r *Retriever) RetrieveContext(ctx context.Context, query string) *ContextBundle {
	bundle := &ContextBundle{History: r.short.All()}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Printf("[RETRIEVER] Query embedding failed, returning history only: %v", err)
		return bundle
	}
	queryVec = Normalize(queryVec)

	// The three lookups are independent; join them before returning.
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		bundle.Pages = r.mid.Search(queryVec, r.cfg.MidTermSimilarity, r.cfg.RetrievalQueueCapacity)
	}()

	go func() {
		defer wg.Done()
		hits, err := r.user.SearchKnowledge(ctx, query, r.cfg.KnowledgeThreshold, r.cfg.KnowledgeTopK)
		if err != nil {
			r.logger.Printf("[RETRIEVER] User knowledge search failed: %v", err)
			return
		}
		bundle.UserKnowledge = hits
	}()

	go func() {
		defer wg.Done()
		hits, err := r.assistant.SearchKnowledge(ctx, query, r.cfg.KnowledgeThreshold, r.cfg.KnowledgeTopK)
		if err != nil {
			r.logger.Printf("[RETRIEVER] Assistant knowledge search failed: %v", err)
			return
		}
		bundle.AssistantKnowledge = hits
	}()

	wg.Wait()

	r.logger.Printf("[RETRIEVER] Retrieved %d pages, %d user + %d assistant knowledge entries",
		len(bundle.Pages), len(bundle.UserKnowledge), len(bundle.AssistantKnowledge))
	return bundle
}
