package memory

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoryos/memoryos-go/core"
)

// Page is an interaction held in a mid-term session, together with its
// embedding and per-interaction analysis flag.
type Page struct {
	Interaction core.Interaction `json:"interaction"`
	Embedding   []float32        `json:"embedding"`
	Analyzed    bool             `json:"analyzed"`
}

// Session is a cluster of related interactions. Heat is always the pure
// function of NVisit, LInteraction, and recency; every mutation goes
// through recomputeHeat so the field can never drift from its inputs.
type Session struct {
	ID           string    `json:"id"`
	Pages        []Page    `json:"pages"`
	EmbedSum     []float32 `json:"embed_sum"`
	NVisit       int       `json:"n_visit"`
	LInteraction float64   `json:"l_interaction"`
	LastVisit    string    `json:"last_visit_time"`
	Heat         float64   `json:"h_segment"`
}

// Centroid returns the session's normalized mean embedding.
func (s *Session) Centroid() []float32 {
	return Normalize(s.EmbedSum)
}

// clone returns a copy safe to read after the store lock is released.
// Page embeddings and interaction metadata are shared; both are immutable
// once a page is created.
func (s *Session) clone() *Session {
	out := *s
	out.Pages = make([]Page, len(s.Pages))
	copy(out.Pages, s.Pages)
	out.EmbedSum = append([]float32(nil), s.EmbedSum...)
	return &out
}

// UnanalyzedPages returns the pages not yet distilled into long-term memory.
func (s *Session) UnanalyzedPages() []Page {
	var out []Page
	for _, p := range s.Pages {
		if !p.Analyzed {
			out = append(out, p)
		}
	}
	return out
}

// RetrievedPage is a mid-term retrieval hit.
type RetrievedPage struct {
	Interaction core.Interaction
	SessionID   string
	Score       float64
}

// MidTermStore holds heat-scored sessions behind a max-heap. Session
// assignment is a best-match scan over all session centroids; capacity
// overflow evicts the coldest session.
type MidTermStore struct {
	mu       sync.Mutex
	cfg      *Config
	logger   *log.Logger
	sessions map[string]*Session
	heap     sessionHeap

	// now is swappable in tests to steer recency decay.
	now func() time.Time
}

// NewMidTermStore creates an empty store.
// Panics when cfg carries a non-positive mid-term capacity.
func NewMidTermStore(cfg *Config) *MidTermStore {
	if cfg.MidTermCapacity <= 0 {
		panic(fmt.Sprintf("memory: mid-term capacity must be positive, got %d", cfg.MidTermCapacity))
	}
	return &MidTermStore{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// heat is the pure scoring function:
//
//	H = alpha*NVisit + beta*LInteraction + gamma*exp(-hoursSinceVisit/tau)
//
// Monotonically non-decreasing in NVisit and LInteraction, and
// non-increasing as time since last visit grows (exponential decay).
func (m *MidTermStore) heat(nVisit int, lInteraction float64, lastVisit string, now time.Time) float64 {
	hours := now.Sub(core.ParseTime(lastVisit)).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-hours / m.cfg.RecencyTauHours)
	return m.cfg.HeatAlpha*float64(nVisit) + m.cfg.HeatBeta*lInteraction + m.cfg.HeatGamma*recency
}

func (m *MidTermStore) recomputeHeat(s *Session) {
	s.Heat = m.heat(s.NVisit, s.LInteraction, s.LastVisit, m.now())
}

// AssignOrCreate routes an incoming interaction to the best-matching
// session by centroid similarity, or creates a new session when nothing
// clears the acceptance threshold. Returns the session ID.
func (m *MidTermStore) AssignOrCreate(rec core.Interaction, embedding []float32) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	emb := Normalize(embedding)

	// Scan in sorted ID order so equal-similarity ties resolve the same
	// way every run; map iteration order would make them arbitrary.
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best *Session
	bestScore := -1.0
	for _, id := range ids {
		s := m.sessions[id]
		score := Dot(s.Centroid(), emb)
		if score > bestScore {
			bestScore = score
			best = s
		}
	}

	nowTS := m.now().UTC().Format(core.TimeFormat)
	if best != nil && bestScore >= m.cfg.SessionSimilarity {
		best.Pages = append(best.Pages, Page{Interaction: rec, Embedding: emb})
		best.EmbedSum = addVec(best.EmbedSum, emb)
		best.NVisit++
		best.LInteraction++
		best.LastVisit = nowTS
		m.recomputeHeat(best)
		m.rebuildHeapLocked()
		m.logger.Printf("[MIDTERM] Appended to session %s (similarity %.3f, heat %.2f)", best.ID, bestScore, best.Heat)
		return best.ID
	}

	s := &Session{
		ID:           uuid.New().String(),
		Pages:        []Page{{Interaction: rec, Embedding: emb}},
		EmbedSum:     addVec(nil, emb),
		NVisit:       1,
		LInteraction: 1,
		LastVisit:    nowTS,
	}
	m.recomputeHeat(s)
	m.sessions[s.ID] = s
	if len(m.sessions) > m.cfg.MidTermCapacity {
		m.evictColdestLocked()
		m.rebuildHeapLocked()
	} else {
		m.heap.push(s.ID, s.Heat)
	}
	m.logger.Printf("[MIDTERM] Created session %s (best candidate similarity %.3f)", s.ID, bestScore)
	return s.ID
}

// evictColdestLocked drops lowest-heat sessions until within capacity.
func (m *MidTermStore) evictColdestLocked() {
	for len(m.sessions) > m.cfg.MidTermCapacity {
		coldID := ""
		coldHeat := math.Inf(1)
		for id, s := range m.sessions {
			if s.Heat < coldHeat {
				coldHeat = s.Heat
				coldID = id
			}
		}
		if coldID == "" {
			return
		}
		delete(m.sessions, coldID)
		m.logger.Printf("[MIDTERM] Capacity exceeded, evicted coldest session %s (heat %.2f)", coldID, coldHeat)
	}
}

// RebuildHeap reconstructs the max-heap from the live session set. This is
// the only repair path for stale heap entries: full reconstruction rather
// than incremental fix-up.
func (m *MidTermStore) RebuildHeap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuildHeapLocked()
}

func (m *MidTermStore) rebuildHeapLocked() {
	items := make([]heapItem, 0, len(m.sessions))
	now := m.now()
	for id, s := range m.sessions {
		s.Heat = m.heat(s.NVisit, s.LInteraction, s.LastVisit, now)
		items = append(items, heapItem{id: id, heat: s.Heat})
	}
	m.heap.rebuild(items)
}

// PeekHottest returns a copy of the highest-heat session without removing
// it, or nil for an empty store. The copy is taken under the store lock, so
// concurrent visits and assignments cannot mutate what the caller reads;
// follow-up mutations go through the session ID. A heap entry pointing at a
// vanished session is self-healed by a rebuild.
func (m *MidTermStore) PeekHottest() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		item, ok := m.heap.peek()
		if !ok {
			return nil
		}
		if s, exists := m.sessions[item.id]; exists {
			return s.clone()
		}
		// Stale reference: the heap must never outlive its sessions.
		m.logger.Printf("[MIDTERM] Heap referenced missing session %s, rebuilding", item.id)
		m.rebuildHeapLocked()
	}
}

// Visit records a read access: NVisit is incremented and the visit time
// refreshed, feeding heat. Retrieval participates in eviction priority.
func (m *MidTermStore) Visit(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.NVisit++
	s.LastVisit = m.now().UTC().Format(core.TimeFormat)
	m.recomputeHeat(s)
	m.rebuildHeapLocked()
}

// MarkAnalyzedAndReset flags every page analyzed and zeroes the visit and
// interaction-length contributions. Recency is deliberately left to decay
// naturally from the refreshed visit time, so a just-analyzed session goes
// cold gradually rather than instantly.
func (m *MidTermStore) MarkAnalyzedAndReset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	for i := range s.Pages {
		s.Pages[i].Analyzed = true
	}
	s.NVisit = 0
	s.LInteraction = 0
	s.LastVisit = m.now().UTC().Format(core.TimeFormat)
	m.recomputeHeat(s)
	m.rebuildHeapLocked()
	m.logger.Printf("[MIDTERM] Session %s analyzed, heat reset to %.2f", sessionID, s.Heat)
}

// Search returns pages from sessions whose centroid similarity to the query
// clears threshold, sorted by similarity descending and capped at limit.
// Matched sessions are visited as a side effect.
func (m *MidTermStore) Search(queryEmbedding []float32, threshold float64, limit int) []RetrievedPage {
	m.mu.Lock()

	emb := Normalize(queryEmbedding)
	type match struct {
		s     *Session
		score float64
	}
	var matches []match
	for _, s := range m.sessions {
		score := Dot(s.Centroid(), emb)
		if score >= threshold {
			matches = append(matches, match{s: s, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	var out []RetrievedPage
	var visited []string
	for _, mt := range matches {
		if limit > 0 && len(out) >= limit {
			break
		}
		contributed := false
		for _, p := range mt.s.Pages {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, RetrievedPage{
				Interaction: p.Interaction,
				SessionID:   mt.s.ID,
				Score:       mt.score,
			})
			contributed = true
		}
		// Only sessions that actually surfaced pages count as visited.
		if contributed {
			visited = append(visited, mt.s.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range visited {
		m.Visit(id)
	}
	return out
}

// SessionCount returns the number of live sessions.
func (m *MidTermStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// TotalPages counts interactions across all sessions, analyzed or not.
func (m *MidTermStore) TotalPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, s := range m.sessions {
		total += len(s.Pages)
	}
	return total
}

// GetSession returns a session by ID, or nil.
func (m *MidTermStore) GetSession(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

type midTermSnapshot struct {
	Sessions []*Session `json:"sessions"`
}

// Snapshot serializes all sessions for persistence.
func (m *MidTermStore) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := midTermSnapshot{Sessions: make([]*Session, 0, len(m.sessions))}
	for _, s := range m.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })
	return json.Marshal(snap)
}

// Restore replaces store contents from a snapshot blob and rebuilds the heap.
func (m *MidTermStore) Restore(blob []byte) error {
	var snap midTermSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode mid-term snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session, len(snap.Sessions))
	for _, s := range snap.Sessions {
		m.sessions[s.ID] = s
	}
	m.rebuildHeapLocked()
	return nil
}

func addVec(sum, v []float32) []float32 {
	if sum == nil {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	if len(sum) != len(v) {
		return sum
	}
	for i := range sum {
		sum[i] += v[i]
	}
	return sum
}
