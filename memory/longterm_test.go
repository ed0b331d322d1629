package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/memoryos/memoryos-go/core"
)

// fakeIndex is an in-memory VectorIndex with switchable query failure.
type fakeIndex struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	failQuery bool
	removed   []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[string][]float32)}
}

func (f *fakeIndex) Add(ctx context.Context, entry core.KnowledgeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[entry.ID] = entry.Embedding
	return nil
}

func (f *fakeIndex) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, embedding []float32, topK int) ([]IndexMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failQuery {
		return nil, errors.New("index unavailable")
	}
	var out []IndexMatch
	for id, vec := range f.vectors {
		out = append(out, IndexMatch{ID: id, Score: Dot(vec, embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func TestUpdateProfileReplaceAndMerge(t *testing.T) {
	l := NewLongTermStore(testConfig(), newStubEmbedder(4), nil)

	l.UpdateProfile("tom", "likes jazz", false)
	if got := l.Profile("tom"); got != "likes jazz" {
		t.Fatalf("profile = %q", got)
	}

	l.UpdateProfile("tom", "moved to Oslo", true)
	got := l.Profile("tom")
	jazz := strings.Index(got, "likes jazz")
	oslo := strings.Index(got, "moved to Oslo")
	if jazz < 0 || oslo < 0 || jazz > oslo {
		t.Fatalf("merged profile lost ordering: %q", got)
	}
	if !strings.Contains(got, "--- Updated on") {
		t.Fatalf("merged profile missing delimiter: %q", got)
	}

	l.UpdateProfile("tom", "fresh start", false)
	if got := l.Profile("tom"); got != "fresh start" {
		t.Fatalf("replace did not overwrite: %q", got)
	}
}

func TestAddKnowledgeDropsPlaceholders(t *testing.T) {
	emb := newStubEmbedder(4)
	l := NewLongTermStore(testConfig(), emb, nil)
	ctx := context.Background()

	for _, text := range []string{"", "  None  ", "- none", "NONE"} {
		if err := l.AddKnowledge(ctx, text); err != nil {
			t.Fatalf("placeholder %q returned error: %v", text, err)
		}
	}
	if len(l.Knowledge()) != 0 {
		t.Fatalf("placeholders were stored: %d entries", len(l.Knowledge()))
	}
	if emb.calls != 0 {
		t.Fatalf("embedder called %d times for placeholders", emb.calls)
	}
}

func TestAddKnowledgeFIFOEviction(t *testing.T) {
	cfg := testConfig()
	cfg.KnowledgeCapacity = 2
	idx := newFakeIndex()
	l := NewLongTermStore(cfg, newStubEmbedder(4), idx)
	ctx := context.Background()

	for _, text := range []string{"oldest fact", "middle fact", "newest fact"} {
		if err := l.AddKnowledge(ctx, text); err != nil {
			t.Fatalf("add %q: %v", text, err)
		}
	}

	entries := l.Knowledge()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Knowledge != "middle fact" || entries[1].Knowledge != "newest fact" {
		t.Fatalf("eviction not FIFO: %q, %q", entries[0].Knowledge, entries[1].Knowledge)
	}
	if len(idx.removed) != 1 {
		t.Fatalf("index removals = %d, want 1", len(idx.removed))
	}
}

func TestAddKnowledgeEmbedFailure(t *testing.T) {
	emb := newStubEmbedder(4)
	emb.err = errors.New("embedder down")
	l := NewLongTermStore(testConfig(), emb, nil)

	err := l.AddKnowledge(context.Background(), "a real fact")
	if !errors.Is(err, core.ErrCollaborator) {
		t.Fatalf("error = %v, want ErrCollaborator", err)
	}
	if len(l.Knowledge()) != 0 {
		t.Fatal("failed add left an entry behind")
	}
}

func TestSearchKnowledgeEmptyStore(t *testing.T) {
	emb := newStubEmbedder(4)
	l := NewLongTermStore(testConfig(), emb, nil)

	hits, err := l.SearchKnowledge(context.Background(), "anything", 0.1, 5)
	if err != nil || hits != nil {
		t.Fatalf("empty search = (%v, %v), want (nil, nil)", hits, err)
	}
	if emb.calls != 0 {
		t.Fatal("empty search embedded the query")
	}
}

func TestSearchKnowledgeScan(t *testing.T) {
	emb := newStubEmbedder(4)
	emb.pin("the user keeps bees", basis(4, 0))
	emb.pin("the user hates cold", basis(4, 1))
	emb.pin("bees", basis(4, 0))

	l := NewLongTermStore(testConfig(), emb, nil)
	ctx := context.Background()
	if err := l.AddKnowledge(ctx, "the user keeps bees"); err != nil {
		t.Fatal(err)
	}
	if err := l.AddKnowledge(ctx, "the user hates cold"); err != nil {
		t.Fatal(err)
	}

	hits, err := l.SearchKnowledge(ctx, "bees", 0.5, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Knowledge != "the user keeps bees" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSearchKnowledgeIndexFallback(t *testing.T) {
	emb := newStubEmbedder(4)
	emb.pin("fact one", basis(4, 0))
	emb.pin("query", basis(4, 0))

	idx := newFakeIndex()
	l := NewLongTermStore(testConfig(), emb, idx)
	ctx := context.Background()
	if err := l.AddKnowledge(ctx, "fact one"); err != nil {
		t.Fatal(err)
	}

	hits, err := l.SearchKnowledge(ctx, "query", 0.5, 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("index search = (%+v, %v)", hits, err)
	}

	// A broken index degrades to the exhaustive scan, same answer.
	idx.failQuery = true
	hits, err = l.SearchKnowledge(ctx, "query", 0.5, 5)
	if err != nil || len(hits) != 1 {
		t.Fatalf("fallback search = (%+v, %v)", hits, err)
	}
}

func TestConversationArena(t *testing.T) {
	l := NewLongTermStore(testConfig(), newStubEmbedder(4), nil)

	l.AppendMessage("c1", "th1", core.Message{UserInput: "hi", AgentResponse: "hello"})
	l.AppendMessage("c1", "th1", core.Message{UserInput: "more", AgentResponse: "sure"})
	l.AppendMessage("c2", "th1", core.Message{UserInput: "new topic", AgentResponse: "ok"})

	c := l.Conversation("c1")
	if c == nil || len(c.Messages) != 2 {
		t.Fatalf("conversation c1 = %+v", c)
	}
	convos := l.ConversationsForThread("th1")
	if len(convos) != 2 || convos[0].ID != "c1" || convos[1].ID != "c2" {
		t.Fatalf("thread order wrong: %+v", convos)
	}

	l.AttachSummary("c1", core.ConversationSummary{Text: "greeting", ChildConversationID: "c2"})
	if got := l.Conversation("c1").Summary; got == nil || got.Text != "greeting" {
		t.Fatalf("summary = %+v", got)
	}

	l.AttachRollingSummary("th1", "first")
	l.AttachRollingSummary("th1", "second")
	if got := l.RollingSummary("th1"); got != "second" {
		t.Fatalf("rolling summary = %q, want overwrite to %q", got, "second")
	}
}

func TestLineageRootFirst(t *testing.T) {
	l := NewLongTermStore(testConfig(), newStubEmbedder(4), nil)
	l.StoreConversation(&core.Conversation{ID: "root", ThreadID: "th"})
	l.StoreConversation(&core.Conversation{ID: "mid", ThreadID: "th", ParentID: "root"})
	l.StoreConversation(&core.Conversation{ID: "leaf", ThreadID: "th", ParentID: "mid"})

	chain := l.Lineage("leaf")
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	for i, want := range []string{"root", "mid", "leaf"} {
		if chain[i].ID != want {
			t.Fatalf("chain[%d] = %s, want %s", i, chain[i].ID, want)
		}
	}
}

func TestLineageBreaksCycles(t *testing.T) {
	l := NewLongTermStore(testConfig(), newStubEmbedder(4), nil)
	l.StoreConversation(&core.Conversation{ID: "a", ParentID: "b"})
	l.StoreConversation(&core.Conversation{ID: "b", ParentID: "a"})

	chain := l.Lineage("a")
	if len(chain) != 2 {
		t.Fatalf("cyclic chain length = %d, want 2", len(chain))
	}
}

func TestLongTermSnapshotRoundTrip(t *testing.T) {
	emb := newStubEmbedder(4)
	l := NewLongTermStore(testConfig(), emb, nil)
	ctx := context.Background()

	l.UpdateProfile("tom", "profile text", false)
	if err := l.AddKnowledge(ctx, "a durable fact"); err != nil {
		t.Fatal(err)
	}
	l.AppendMessage("c1", "th1", core.Message{UserInput: "hi", AgentResponse: "hello"})
	l.AttachRollingSummary("th1", "summary")

	blob, err := l.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	idx := newFakeIndex()
	restored := NewLongTermStore(testConfig(), emb, idx)
	if err := restored.Restore(ctx, blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Profile("tom") != "profile text" {
		t.Error("profile lost in round trip")
	}
	if entries := restored.Knowledge(); len(entries) != 1 || entries[0].Knowledge != "a durable fact" {
		t.Errorf("knowledge lost: %+v", entries)
	}
	if restored.RollingSummary("th1") != "summary" {
		t.Error("rolling summary lost")
	}
	if len(restored.ConversationsForThread("th1")) != 1 {
		t.Error("thread index lost")
	}
	if len(idx.vectors) != 1 {
		t.Errorf("index not repopulated: %d vectors", len(idx.vectors))
	}
}

func TestLongTermRestoreTrimsOverCapacity(t *testing.T) {
	emb := newStubEmbedder(4)
	big := NewLongTermStore(testConfig(), emb, nil)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if err := big.AddKnowledge(ctx, "fact "+text); err != nil {
			t.Fatal(err)
		}
	}
	blob, err := big.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.KnowledgeCapacity = 2
	small := NewLongTermStore(cfg, emb, nil)
	if err := small.Restore(ctx, blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	entries := small.Knowledge()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want trim to 2", len(entries))
	}
	if entries[0].Knowledge != "fact two" {
		t.Fatalf("trim dropped wrong end: %q", entries[0].Knowledge)
	}
}
