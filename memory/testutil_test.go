package memory

import (
	"context"
	"hash/fnv"
	"io"
	"log"
	"math"
	"sync"
)

// testConfig returns defaults with logging silenced.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

// basis returns the unit vector along axis i, for tests that need exact
// similarity control: identical bases score 1.0, distinct bases 0.0.
func basis(dims, i int) []float32 {
	v := make([]float32, dims)
	v[i%dims] = 1
	return v
}

// stubEmbedder returns pinned vectors for known texts and deterministic
// hash-based unit vectors otherwise.
type stubEmbedder struct {
	mu      sync.Mutex
	dims    int
	vectors map[string][]float32
	err     error
	calls   int
}

func newStubEmbedder(dims int) *stubEmbedder {
	return &stubEmbedder{dims: dims, vectors: make(map[string][]float32)}
}

func (s *stubEmbedder) pin(text string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[text] = vec
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, s.dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return Normalize(vec), nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

// fakeLLM routes completions through a configurable function; the default
// answers "None" to everything.
type fakeLLM struct {
	mu    sync.Mutex
	fn    func(req ChatRequest) (string, error)
	calls []ChatRequest
}

func (f *fakeLLM) ChatCompletion(ctx context.Context, req ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn == nil {
		return "None", nil
	}
	return fn(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeTokenizer charges a fixed cost per text.
type fakeTokenizer struct {
	perText int
}

func (f *fakeTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return f.perText
}
