package memory

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/memoryos/memoryos-go/core"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestHeatMonotonicity(t *testing.T) {
	m := NewMidTermStore(testConfig())
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	visit := now.Format(core.TimeFormat)

	if a, b := m.heat(1, 1, visit, now), m.heat(2, 1, visit, now); b <= a {
		t.Fatalf("heat did not grow with visits: %f -> %f", a, b)
	}
	if a, b := m.heat(1, 1, visit, now), m.heat(1, 5, visit, now); b <= a {
		t.Fatalf("heat did not grow with interaction length: %f -> %f", a, b)
	}

	older := now.Add(-36 * time.Hour).Format(core.TimeFormat)
	if fresh, stale := m.heat(1, 1, visit, now), m.heat(1, 1, older, now); stale >= fresh {
		t.Fatalf("heat did not decay with staleness: fresh %f, stale %f", fresh, stale)
	}

	// At the moment of the visit the recency term contributes exactly gamma.
	got := m.heat(2, 3, visit, now)
	want := 2.0 + 3.0 + 1.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("heat = %f, want %f", got, want)
	}
}

func TestAssignOrCreateClusters(t *testing.T) {
	m := NewMidTermStore(testConfig())

	first := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))
	same := m.AssignOrCreate(core.NewInteraction("b", "", "", nil), basis(4, 0))
	if first != same {
		t.Fatalf("similar interactions split into sessions %s and %s", first, same)
	}

	other := m.AssignOrCreate(core.NewInteraction("c", "", "", nil), basis(4, 1))
	if other == first {
		t.Fatal("orthogonal interaction joined an unrelated session")
	}
	if m.SessionCount() != 2 {
		t.Fatalf("session count = %d, want 2", m.SessionCount())
	}
	if m.TotalPages() != 3 {
		t.Fatalf("total pages = %d, want 3", m.TotalPages())
	}

	s := m.GetSession(first)
	if s == nil || len(s.Pages) != 2 {
		t.Fatalf("session %s pages = %+v", first, s)
	}
	if s.LInteraction != 2 {
		t.Fatalf("LInteraction = %f, want 2", s.LInteraction)
	}
}

func TestEvictColdestSession(t *testing.T) {
	cfg := testConfig()
	cfg.MidTermCapacity = 2
	m := NewMidTermStore(cfg)

	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	m.now = fixedClock(t0)
	a := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))
	b := m.AssignOrCreate(core.NewInteraction("b", "", "", nil), basis(4, 1))

	// Two days later only session a gets revisited, so b has decayed.
	m.now = fixedClock(t0.Add(48 * time.Hour))
	m.Visit(a)
	c := m.AssignOrCreate(core.NewInteraction("c", "", "", nil), basis(4, 2))

	if m.SessionCount() != 2 {
		t.Fatalf("session count = %d, want 2", m.SessionCount())
	}
	if m.GetSession(b) != nil {
		t.Error("coldest session survived eviction")
	}
	if m.GetSession(a) == nil || m.GetSession(c) == nil {
		t.Error("a warm session was evicted")
	}
}

func TestVisitFeedsHeat(t *testing.T) {
	m := NewMidTermStore(testConfig())
	id := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))

	before := m.GetSession(id).Heat
	m.Visit(id)
	after := m.GetSession(id).Heat
	if after <= before {
		t.Fatalf("visit did not raise heat: %f -> %f", before, after)
	}
	if m.GetSession(id).NVisit != 2 {
		t.Fatalf("NVisit = %d, want 2", m.GetSession(id).NVisit)
	}
}

func TestMarkAnalyzedAndReset(t *testing.T) {
	m := NewMidTermStore(testConfig())
	id := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))
	m.AssignOrCreate(core.NewInteraction("b", "", "", nil), basis(4, 0))
	m.Visit(id)

	m.MarkAnalyzedAndReset(id)

	s := m.GetSession(id)
	if len(s.UnanalyzedPages()) != 0 {
		t.Fatalf("unanalyzed pages remain: %d", len(s.UnanalyzedPages()))
	}
	if s.NVisit != 0 || s.LInteraction != 0 {
		t.Fatalf("counters not reset: NVisit=%d LInteraction=%f", s.NVisit, s.LInteraction)
	}
	// Recency is not reset: heat equals the recency term and decays from here.
	if math.Abs(s.Heat-1.0) > 0.01 {
		t.Fatalf("post-reset heat = %f, want ~1 (recency only)", s.Heat)
	}
}

func TestPeekHottestSelfHeals(t *testing.T) {
	m := NewMidTermStore(testConfig())
	id := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))

	// Plant a stale heap entry pointing at a session that no longer exists.
	m.heap.push("ghost", 9999)

	s := m.PeekHottest()
	if s == nil || s.ID != id {
		t.Fatalf("PeekHottest = %+v, want session %s", s, id)
	}
}

func TestPeekHottestEmpty(t *testing.T) {
	m := NewMidTermStore(testConfig())
	if s := m.PeekHottest(); s != nil {
		t.Fatalf("PeekHottest on empty store = %+v", s)
	}
}

func TestSearchVisitsMatches(t *testing.T) {
	m := NewMidTermStore(testConfig())
	hit := m.AssignOrCreate(core.NewInteraction("about cats", "", "", nil), basis(4, 0))
	miss := m.AssignOrCreate(core.NewInteraction("about tax law", "", "", nil), basis(4, 1))

	pages := m.Search(basis(4, 0), 0.3, 10)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].SessionID != hit {
		t.Fatalf("hit session = %s, want %s", pages[0].SessionID, hit)
	}
	if pages[0].Score < 0.99 {
		t.Fatalf("score = %f, want ~1", pages[0].Score)
	}

	// Retrieval is a visit: the matched session's counter moves, the other's
	// does not.
	if n := m.GetSession(hit).NVisit; n != 2 {
		t.Fatalf("matched session NVisit = %d, want 2", n)
	}
	if n := m.GetSession(miss).NVisit; n != 1 {
		t.Fatalf("unmatched session NVisit = %d, want 1", n)
	}
}

func TestAssignOrCreateTieBreakStable(t *testing.T) {
	// Two sessions with identical centroids tie on similarity; the lower ID
	// must win every time, not whichever the map yields first.
	page := Page{Interaction: core.NewInteraction("seed", "", "", nil), Embedding: basis(4, 0)}
	for i := 0; i < 10; i++ {
		snap := midTermSnapshot{Sessions: []*Session{
			{ID: "bbb", Pages: []Page{page}, EmbedSum: basis(4, 0), NVisit: 1, LInteraction: 1, LastVisit: core.Now()},
			{ID: "aaa", Pages: []Page{page}, EmbedSum: basis(4, 0), NVisit: 1, LInteraction: 1, LastVisit: core.Now()},
		}}
		blob, err := json.Marshal(snap)
		if err != nil {
			t.Fatal(err)
		}
		m := NewMidTermStore(testConfig())
		if err := m.Restore(blob); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if id := m.AssignOrCreate(core.NewInteraction("x", "", "", nil), basis(4, 0)); id != "aaa" {
			t.Fatalf("run %d: tie resolved to %s, want aaa", i, id)
		}
	}
}

func TestPeekHottestReturnsConsistentCopy(t *testing.T) {
	m := NewMidTermStore(testConfig())
	id := m.AssignOrCreate(core.NewInteraction("a", "", "", nil), basis(4, 0))

	peeked := m.PeekHottest()
	m.Visit(id)
	m.AssignOrCreate(core.NewInteraction("b", "", "", nil), basis(4, 0))

	// Mutations after the peek must not show up in what was handed out.
	if peeked.NVisit != 1 || len(peeked.Pages) != 1 {
		t.Fatalf("peeked session mutated under the caller: %+v", peeked)
	}
	if live := m.GetSession(id); live.NVisit != 3 || len(live.Pages) != 2 {
		t.Fatalf("live session = %+v", live)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	m := NewMidTermStore(testConfig())
	for i := 0; i < 5; i++ {
		m.AssignOrCreate(core.NewInteraction("x", "", "", nil), basis(4, 0))
	}
	pages := m.Search(basis(4, 0), 0.3, 3)
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want limit 3", len(pages))
	}
}

func TestSearchLimitDoesNotVisitTruncatedSessions(t *testing.T) {
	m := NewMidTermStore(testConfig())

	// Two distinct sessions that both clear the retrieval threshold for the
	// query, with "near" the better match.
	near := m.AssignOrCreate(core.NewInteraction("near", "", "", nil), Normalize([]float32{1, 2, 0, 0}))
	far := m.AssignOrCreate(core.NewInteraction("far", "", "", nil), basis(4, 0))
	if near == far {
		t.Fatal("fixture sessions merged")
	}

	query := Normalize([]float32{1, 1, 0, 0})
	pages := m.Search(query, 0.3, 1)
	if len(pages) != 1 || pages[0].SessionID != near {
		t.Fatalf("pages = %+v, want one page from %s", pages, near)
	}

	// The session whose pages were all cut by the limit must not gain heat.
	if n := m.GetSession(near).NVisit; n != 2 {
		t.Fatalf("contributing session NVisit = %d, want 2", n)
	}
	if n := m.GetSession(far).NVisit; n != 1 {
		t.Fatalf("truncated session NVisit = %d, want 1", n)
	}
}

func TestMidTermSnapshotRoundTrip(t *testing.T) {
	m := NewMidTermStore(testConfig())
	id := m.AssignOrCreate(core.NewInteraction("a", "r", "", nil), basis(4, 0))
	m.Visit(id)

	blob, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := NewMidTermStore(testConfig())
	if err := restored.Restore(blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	s := restored.GetSession(id)
	if s == nil {
		t.Fatalf("session %s missing after restore", id)
	}
	if s.NVisit != 2 || len(s.Pages) != 1 {
		t.Fatalf("restored session mismatch: %+v", s)
	}
	if hot := restored.PeekHottest(); hot == nil || hot.ID != id {
		t.Fatal("heap not rebuilt after restore")
	}
}

func TestMidTermRestoreRejectsGarbage(t *testing.T) {
	m := NewMidTermStore(testConfig())
	if err := m.Restore([]byte("nope")); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}
