package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/memoryos/memoryos-go/core"
)

// placeholderKnowledge are texts the extraction LLM emits to signal absence.
// Adding one is a silent no-op, matching the permissive source behavior.
var placeholderKnowledge = map[string]bool{
	"":        true,
	"none":    true,
	"- none":  true,
	"- none.": true,
}

// LongTermStore is a durable per-owner knowledge base: a profile with merge
// semantics, a bounded FIFO knowledge deque searchable by embedding, and
// the conversation/thread arena. A store instance may be shared (the
// assistant-scoped store is); all mutation is serialized by a single mutex.
type LongTermStore struct {
	mu       sync.Mutex
	cfg      *Config
	logger   *log.Logger
	embedder Embedder
	index    VectorIndex // optional; nil falls back to exhaustive scan

	profiles        map[string]core.Profile
	knowledge       []core.KnowledgeEntry
	conversations   map[string]*core.Conversation
	threadIndex     map[string][]string // thread ID -> conversation IDs, creation order
	threadSummaries map[string]string   // thread ID -> rolling summary (overwritten)
}

// NewLongTermStore creates an empty store. The index is optional.
// Panics when cfg carries a non-positive knowledge capacity.
func NewLongTermStore(cfg *Config, embedder Embedder, index VectorIndex) *LongTermStore {
	if cfg.KnowledgeCapacity <= 0 {
		panic(fmt.Sprintf("memory: knowledge capacity must be positive, got %d", cfg.KnowledgeCapacity))
	}
	return &LongTermStore{
		cfg:             cfg,
		logger:          cfg.Logger,
		embedder:        embedder,
		index:           index,
		profiles:        make(map[string]core.Profile),
		conversations:   make(map[string]*core.Conversation),
		threadIndex:     make(map[string][]string),
		threadSummaries: make(map[string]string),
	}
}

// UpdateProfile replaces or merges an owner's profile text. Merging appends
// a timestamped delimited block; it is a textual append, not a semantic
// merge (the consolidation engine handles semantic re-synthesis via the
// LLM before calling this with merge=false).
func (l *LongTermStore) UpdateProfile(ownerID, newData string, merge bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.profiles[ownerID]
	data := newData
	if merge && ok && existing.Data != "" {
		data = fmt.Sprintf("%s\n\n--- Updated on %s ---\n%s", existing.Data, core.Now(), newData)
	}
	l.profiles[ownerID] = core.Profile{
		OwnerID:     ownerID,
		Data:        data,
		LastUpdated: core.Now(),
	}
	l.logger.Printf("[LONGTERM] Updated profile for %s (merge=%t)", ownerID, merge)
}

// Profile returns the raw profile text for an owner, or "".
func (l *LongTermStore) Profile(ownerID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profiles[ownerID].Data
}

// AddKnowledge embeds and stores a knowledge text. Empty or placeholder
// texts ("none" variants, case-insensitive) are dropped silently. When the
// deque is full the oldest entry is evicted first (strict FIFO).
func (l *LongTermStore) AddKnowledge(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if placeholderKnowledge[strings.ToLower(trimmed)] {
		l.logger.Printf("[LONGTERM] Placeholder knowledge received, not saving")
		return nil
	}

	vec, err := l.embedder.Embed(ctx, trimmed)
	if err != nil {
		return fmt.Errorf("embed knowledge: %w: %v", core.ErrCollaborator, err)
	}

	entry := core.KnowledgeEntry{
		ID:        uuid.New().String(),
		Knowledge: trimmed,
		Timestamp: core.Now(),
		Embedding: Normalize(vec),
	}

	l.mu.Lock()
	var evicted []core.KnowledgeEntry
	l.knowledge = append(l.knowledge, entry)
	for len(l.knowledge) > l.cfg.KnowledgeCapacity {
		evicted = append(evicted, l.knowledge[0])
		l.knowledge = l.knowledge[1:]
	}
	count := len(l.knowledge)
	l.mu.Unlock()

	if l.index != nil {
		if err := l.index.Add(ctx, entry); err != nil {
			l.logger.Printf("[LONGTERM] Index add failed for %s: %v", entry.ID, err)
		}
		for _, old := range evicted {
			if err := l.index.Remove(ctx, old.ID); err != nil {
				l.logger.Printf("[LONGTERM] Index remove failed for %s: %v", old.ID, err)
			}
		}
	}

	l.logger.Printf("[LONGTERM] Added knowledge (count %d)", count)
	return nil
}

// Knowledge returns a copy of all stored entries, oldest first.
func (l *LongTermStore) Knowledge() []core.KnowledgeEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.KnowledgeEntry, len(l.knowledge))
	copy(out, l.knowledge)
	return out
}

// SearchKnowledge embeds the query and returns entries with inner-product
// similarity >= threshold, sorted descending and capped at topK. An empty
// store returns an empty result without touching the embedder.
func (l *LongTermStore) SearchKnowledge(ctx context.Context, query string, threshold float64, topK int) ([]core.KnowledgeEntry, error) {
	l.mu.Lock()
	empty := len(l.knowledge) == 0
	l.mu.Unlock()
	if empty {
		return nil, nil
	}

	vec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %v", core.ErrCollaborator, err)
	}
	queryVec := Normalize(vec)

	if l.index != nil {
		if results, err := l.searchByIndex(ctx, queryVec, threshold, topK); err == nil {
			return results, nil
		} else {
			// Degrade to the exhaustive scan rather than failing the query.
			l.logger.Printf("[LONGTERM] Index query failed, scanning: %v", err)
		}
	}
	return l.searchByScan(queryVec, threshold, topK), nil
}

func (l *LongTermStore) searchByIndex(ctx context.Context, queryVec []float32, threshold float64, topK int) ([]core.KnowledgeEntry, error) {
	matches, err := l.index.Query(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	byID := make(map[string]core.KnowledgeEntry, len(l.knowledge))
	for _, e := range l.knowledge {
		byID[e.ID] = e
	}
	l.mu.Unlock()

	var out []core.KnowledgeEntry
	for _, m := range matches {
		if m.Score < threshold {
			continue
		}
		if e, ok := byID[m.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *LongTermStore) searchByScan(queryVec []float32, threshold float64, topK int) []core.KnowledgeEntry {
	l.mu.Lock()
	type scored struct {
		entry core.KnowledgeEntry
		score float64
	}
	var hits []scored
	for _, e := range l.knowledge {
		score := Dot(e.Embedding, queryVec)
		if score >= threshold {
			hits = append(hits, scored{entry: e, score: score})
		}
	}
	l.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]core.KnowledgeEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// --- Conversation/thread arena ---

// StoreConversation inserts or replaces a conversation node and maintains
// the thread index.
func (l *LongTermStore) StoreConversation(conv *core.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conv.CreatedAt == "" {
		conv.CreatedAt = core.Now()
	}
	_, existed := l.conversations[conv.ID]
	l.conversations[conv.ID] = conv
	if conv.ThreadID != "" && !existed {
		l.threadIndex[conv.ThreadID] = append(l.threadIndex[conv.ThreadID], conv.ID)
	}
}

// Conversation returns a conversation by ID, or nil.
func (l *LongTermStore) Conversation(id string) *core.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversations[id]
}

// ConversationsForThread returns a thread's conversations in creation order.
func (l *LongTermStore) ConversationsForThread(threadID string) []*core.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.threadIndex[threadID]
	out := make([]*core.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := l.conversations[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AppendMessage adds a message to a conversation, creating the conversation
// node on first use.
func (l *LongTermStore) AppendMessage(conversationID, threadID string, msg core.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conversations[conversationID]
	if !ok {
		c = &core.Conversation{
			ID:        conversationID,
			ThreadID:  threadID,
			CreatedAt: core.Now(),
		}
		l.conversations[conversationID] = c
		if threadID != "" {
			l.threadIndex[threadID] = append(l.threadIndex[threadID], conversationID)
		}
	}
	c.Messages = append(c.Messages, msg)
}

// AttachSummary records a branch summary on a conversation.
func (l *LongTermStore) AttachSummary(conversationID string, summary core.ConversationSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.conversations[conversationID]; ok {
		c.Summary = &summary
	}
}

// AttachRollingSummary overwrites the rolling summary for a thread.
func (l *LongTermStore) AttachRollingSummary(threadID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threadSummaries[threadID] = text
}

// RollingSummary returns the current rolling summary for a thread.
func (l *LongTermStore) RollingSummary(threadID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.threadSummaries[threadID]
}

// Lineage walks parent links from the given conversation up to its root and
// returns the chain root-first. The walk is index-based and cycle-safe.
func (l *LongTermStore) Lineage(conversationID string) []*core.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var chain []*core.Conversation
	seen := make(map[string]bool)
	for id := conversationID; id != "" && !seen[id]; {
		seen[id] = true
		c, ok := l.conversations[id]
		if !ok {
			break
		}
		chain = append(chain, c)
		id = c.ParentID
	}
	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// --- Persistence ---

type longTermSnapshot struct {
	Profiles        map[string]core.Profile       `json:"user_profiles"`
	Knowledge       []core.KnowledgeEntry         `json:"knowledge_base"`
	Conversations   map[string]*core.Conversation `json:"conversations"`
	ThreadIndex     map[string][]string           `json:"thread_index"`
	ThreadSummaries map[string]string             `json:"thread_summaries"`
}

// Snapshot serializes all state for persistence.
func (l *LongTermStore) Snapshot() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(longTermSnapshot{
		Profiles:        l.profiles,
		Knowledge:       l.knowledge,
		Conversations:   l.conversations,
		ThreadIndex:     l.threadIndex,
		ThreadSummaries: l.threadSummaries,
	})
}

// Restore replaces store contents from a snapshot blob and repopulates the
// vector index. Entries beyond capacity are trimmed oldest-first.
func (l *LongTermStore) Restore(ctx context.Context, blob []byte) error {
	var snap longTermSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode long-term snapshot: %w", err)
	}

	l.mu.Lock()
	l.profiles = snap.Profiles
	if l.profiles == nil {
		l.profiles = make(map[string]core.Profile)
	}
	l.knowledge = snap.Knowledge
	if over := len(l.knowledge) - l.cfg.KnowledgeCapacity; over > 0 {
		l.knowledge = l.knowledge[over:]
	}
	l.conversations = snap.Conversations
	if l.conversations == nil {
		l.conversations = make(map[string]*core.Conversation)
	}
	l.threadIndex = snap.ThreadIndex
	if l.threadIndex == nil {
		l.threadIndex = make(map[string][]string)
	}
	l.threadSummaries = snap.ThreadSummaries
	if l.threadSummaries == nil {
		l.threadSummaries = make(map[string]string)
	}
	entries := make([]core.KnowledgeEntry, len(l.knowledge))
	copy(entries, l.knowledge)
	l.mu.Unlock()

	if l.index != nil {
		for _, e := range entries {
			if err := l.index.Add(ctx, e); err != nil {
				l.logger.Printf("[LONGTERM] Index rebuild skipped entry %s: %v", e.ID, err)
			}
		}
	}
	return nil
}
