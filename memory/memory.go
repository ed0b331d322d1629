package memory

import (
	"context"

	"github.com/memoryos/memoryos-go/core"
)

// Embedder converts text to vector embeddings.
// Implementations: embedder/mock (testing), embedder/onnx (local models),
// embedder/cache (memoizing decorator over either).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	// Must be deterministic for identical input within a session.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// ChatMessage is one message in an LLM chat request.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatRequest parameterizes a completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int64
}

// LLMClient is the completion collaborator used for profile and knowledge
// extraction and for conversation summarization. Treated as a pure remote
// call: no local side effects, cancellable through ctx.
// Implementations: llm/anthropic, llm/openai.
type LLMClient interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (string, error)
}

// Tokenizer counts tokens for the auto-branching ceiling check.
// Implementation: tokenizer/tiktoken.
type Tokenizer interface {
	CountTokens(text string) int
}

// Store is durable key-value persistence for tier snapshots, keyed by
// owner-scoped paths such as "users/u1/mid_term".
// Implementations: store/file, store/sqlite.
//
// Load returns (nil, nil) for a missing key. Callers treat corrupt blobs as
// missing: log a warning and start from fresh state, never crash.
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, blob []byte) error
}

// VectorIndex is an optional nearest-neighbor index over knowledge entries.
// When absent, LongTermStore falls back to an exhaustive inner-product scan.
// Implementation: index/chromem.
type VectorIndex interface {
	Add(ctx context.Context, entry core.KnowledgeEntry) error
	Remove(ctx context.Context, id string) error
	// Query returns up to topK entry IDs with their similarity scores,
	// sorted descending by score.
	Query(ctx context.Context, embedding []float32, topK int) ([]IndexMatch, error)
}

// IndexMatch is a single vector index hit.
type IndexMatch struct {
	ID    string
	Score float64
}
