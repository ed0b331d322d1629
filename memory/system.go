package memory

import (
	"context"
	"fmt"
	"log"
	"path"
	"sync"

	"github.com/memoryos/memoryos-go/core"
)

// Scope selects a long-term knowledge store.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeAssistant Scope = "assistant"
)

// DefaultAssistantID names the shared assistant store when none is given.
const DefaultAssistantID = "default_assistant_profile"

// Metadata keys with structural meaning; everything else is opaque.
const (
	MetaThreadID       = "thread_id"
	MetaConversationID = "conversation_id"
)

// SystemOptions wires a System's collaborators. Embedder and LLM are
// required; the rest are optional.
type SystemOptions struct {
	// OwnerID identifies the user this memory instance belongs to.
	OwnerID string

	// AssistantID scopes the assistant knowledge store.
	// Default: DefaultAssistantID.
	AssistantID string

	Embedder  Embedder
	LLM       LLMClient
	Tokenizer Tokenizer // optional; nil disables auto-branching

	// Persistence stores tier snapshots. Nil keeps everything in memory.
	Persistence Store

	// UserIndex / AssistantIndex accelerate knowledge search. Nil falls
	// back to exhaustive scans.
	UserIndex      VectorIndex
	AssistantIndex VectorIndex

	// SharedAssistantStore lets multiple systems that serve the same
	// assistant share one assistant-scoped store. Nil creates a private
	// one. The store serializes concurrent writes internally.
	SharedAssistantStore *LongTermStore

	Config *Config
}

// System is the per-owner memory facade: tiered stores, retriever, and
// consolidation engine behind the operations callers use. Per-owner state
// is exclusively owned by this instance; only the assistant-scoped
// long-term store may be shared across systems.
type System struct {
	mu sync.Mutex // serializes the add/consolidate pipeline

	cfg         *Config
	logger      *log.Logger
	ownerID     string
	assistantID string

	store        Store // nil when persistence is disabled
	short        *ShortTermBuffer
	mid          *MidTermStore
	userLTM      *LongTermStore
	assistantLTM *LongTermStore
	retriever    *Retriever
	updater      *Updater
}

// NewSystem builds a System, loading any persisted state for the owner.
// Corrupt or missing persisted state initializes fresh (logged, never
// fatal); misconfigured capacities panic.
func NewSystem(opts SystemOptions) (*System, error) {
	if opts.OwnerID == "" {
		return nil, fmt.Errorf("memory: %w: OwnerID is required", core.ErrValidation)
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("memory: %w: Embedder is required", core.ErrValidation)
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("memory: %w: LLM is required", core.ErrValidation)
	}
	if opts.AssistantID == "" {
		opts.AssistantID = DefaultAssistantID
	}
	cfg := opts.Config.withDefaults()

	s := &System{
		cfg:         cfg,
		logger:      cfg.Logger,
		ownerID:     opts.OwnerID,
		assistantID: opts.AssistantID,
		store:       opts.Persistence,
		short:       NewShortTermBuffer(cfg.ShortTermCapacity),
		mid:         NewMidTermStore(cfg),
		userLTM:     NewLongTermStore(cfg, opts.Embedder, opts.UserIndex),
	}
	if opts.SharedAssistantStore != nil {
		s.assistantLTM = opts.SharedAssistantStore
	} else {
		s.assistantLTM = NewLongTermStore(cfg, opts.Embedder, opts.AssistantIndex)
	}

	s.retriever = NewRetriever(cfg, opts.Embedder, s.short, s.mid, s.userLTM, s.assistantLTM)
	s.updater = NewUpdater(cfg, opts.OwnerID, s.short, s.mid, s.userLTM, s.assistantLTM, opts.Embedder, opts.LLM, opts.Tokenizer)

	s.loadState()
	return s, nil
}

// AddMemory records a user/agent exchange. It always succeeds once the
// record is in the short-term buffer: promotion, consolidation, and
// branching failures are logged and retried on later calls, never
// propagated.
func (s *System) AddMemory(ctx context.Context, userInput, agentResponse, timestamp string, metadata map[string]string) {
	rec := core.NewInteraction(userInput, agentResponse, timestamp, metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.short.Add(rec)
	s.logger.Printf("[MEMORY] Added interaction to short-term for %s", s.ownerID)

	threadID := rec.Meta(MetaThreadID)
	if convID := rec.Meta(MetaConversationID); convID != "" {
		s.userLTM.AppendMessage(convID, threadID, core.Message{
			UserInput:     rec.UserInput,
			AgentResponse: rec.AgentResponse,
			Timestamp:     rec.Timestamp,
		})
	}

	if s.short.IsFull() {
		s.logger.Printf("[MEMORY] Short-term buffer full, promoting to mid-term")
		if err := s.updater.PromoteShortTerm(ctx); err != nil {
			s.logger.Printf("[MEMORY] Promotion failed, will retry: %v", err)
		}
	}

	if threadID != "" {
		s.updater.CheckAutoBranch(ctx, threadID)
	}

	s.updater.CheckConsolidation(ctx)

	if threadID != "" {
		s.updater.UpdateRollingSummary(ctx, threadID)
	}

	s.persist()
}

// RetrieveContext returns the unified context bundle for a query. Failing
// tiers degrade to empty results; matched mid-term sessions gain heat, so
// state is persisted afterwards.
func (s *System) RetrieveContext(ctx context.Context, query string) *ContextBundle {
	bundle := s.retriever.RetrieveContext(ctx, query)
	s.mu.Lock()
	s.persist()
	s.mu.Unlock()
	return bundle
}

// ForceConsolidation bypasses the heat threshold and analyzes the hottest
// session immediately. Test and ops hook.
func (s *System) ForceConsolidation(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updater.PromoteShortTerm(ctx); err != nil {
		s.logger.Printf("[MEMORY] Promotion during forced consolidation failed: %v", err)
	}
	s.updater.ForceConsolidation(ctx)
	s.persist()
}

// ProfileSummary returns the owner's long-term profile text.
func (s *System) ProfileSummary() string {
	return s.userLTM.Profile(s.ownerID)
}

// KnowledgeSummary lists the knowledge entries for a scope, oldest first.
func (s *System) KnowledgeSummary(scope Scope) []core.KnowledgeEntry {
	if scope == ScopeAssistant {
		return s.assistantLTM.Knowledge()
	}
	return s.userLTM.Knowledge()
}

// Updater exposes the consolidation engine for direct branch/summary
// operations.
func (s *System) Updater() *Updater { return s.updater }

// LongTerm returns the long-term store for a scope.
func (s *System) LongTerm(scope Scope) *LongTermStore {
	if scope == ScopeAssistant {
		return s.assistantLTM
	}
	return s.userLTM
}

// RecordCount returns the interactions currently visible across short-term
// and mid-term tiers. Consolidation moves records, it never drops them, so
// this equals the number of AddMemory calls until long-term distillation.
func (s *System) RecordCount() int {
	return s.short.Len() + s.mid.TotalPages()
}

// --- Persistence ---

func (s *System) shortKey() string { return path.Join("users", s.ownerID, "short_term") }
func (s *System) midKey() string   { return path.Join("users", s.ownerID, "mid_term") }
func (s *System) userKey() string  { return path.Join("users", s.ownerID, "long_term_user") }
func (s *System) assistantKey() string {
	return path.Join("assistants", s.assistantID, "long_term_assistant")
}

// loadState restores every tier from the persistence store. Missing or
// corrupt blobs fall back to fresh state with a warning.
func (s *System) loadState() {
	if s.store == nil {
		return
	}
	load := func(key string, restore func([]byte) error) {
		blob, err := s.store.Load(key)
		if err != nil {
			s.logger.Printf("[MEMORY] Load %s failed, starting fresh: %v", key, err)
			return
		}
		if blob == nil {
			return
		}
		if err := restore(blob); err != nil {
			s.logger.Printf("[MEMORY] Corrupt state at %s, starting fresh: %v", key, err)
		}
	}
	ctx := context.Background()
	load(s.shortKey(), s.short.Restore)
	load(s.midKey(), s.mid.Restore)
	load(s.userKey(), func(b []byte) error { return s.userLTM.Restore(ctx, b) })
	load(s.assistantKey(), func(b []byte) error { return s.assistantLTM.Restore(ctx, b) })
}

// persist snapshots every tier. Save failures are logged; in-memory state
// remains authoritative.
func (s *System) persist() {
	if s.store == nil {
		return
	}
	save := func(key string, snapshot func() ([]byte, error)) {
		blob, err := snapshot()
		if err != nil {
			s.logger.Printf("[MEMORY] Snapshot %s failed: %v", key, err)
			return
		}
		if err := s.store.Save(key, blob); err != nil {
			s.logger.Printf("[MEMORY] Save %s failed: %v: %v", key, core.ErrPersistence, err)
		}
	}
	save(s.shortKey(), s.short.Snapshot)
	save(s.midKey(), s.mid.Snapshot)
	save(s.userKey(), s.userLTM.Snapshot)
	save(s.assistantKey(), s.assistantLTM.Snapshot)
}
