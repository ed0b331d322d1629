// Package memory implements a tiered conversational memory engine:
// short-term, mid-term, and long-term stores with heat-driven consolidation
// and embedding-based retrieval.
//
// Tiers:
//   - ShortTermBuffer: fixed-capacity FIFO of raw interactions
//   - MidTermStore: heat-scored interaction sessions behind a max-heap
//   - LongTermStore: durable profile + bounded knowledge base with
//     vector search, plus the conversation/thread arena
//
// Data flow: AddMemory -> short-term -> (buffer full) promotion into
// mid-term sessions -> (heat over threshold) LLM-assisted distillation into
// long-term profile and knowledge. Retrieval is read-only and fans out
// across all three tiers, except that visiting a mid-term session feeds its
// heat (read access participates in eviction priority).
//
// External collaborators (Embedder, LLMClient, Tokenizer, Store) are
// injected through Config. Adapter implementations live in the embedder/,
// llm/, tokenizer/, store/, and index/ subpackages.
package memory
