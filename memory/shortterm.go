package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/memoryos/memoryos-go/core"
)

// ShortTermBuffer is a fixed-capacity FIFO of raw interactions. It is a hard
// capacity gate, not a ring buffer: nothing is evicted here. The caller must
// observe IsFull after every Add and drain synchronously via the
// consolidation engine before adding more.
type ShortTermBuffer struct {
	mu       sync.Mutex
	capacity int
	records  []core.Interaction
}

// NewShortTermBuffer creates a buffer with the given capacity.
// Panics on capacity <= 0.
func NewShortTermBuffer(capacity int) *ShortTermBuffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("memory: short-term capacity must be positive, got %d", capacity))
	}
	return &ShortTermBuffer{
		capacity: capacity,
		records:  make([]core.Interaction, 0, capacity),
	}
}

// Add appends a record. Records are kept in insertion order.
func (b *ShortTermBuffer) Add(rec core.Interaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

// IsFull reports whether the buffer has reached capacity.
func (b *ShortTermBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records) >= b.capacity
}

// Len returns the current record count.
func (b *ShortTermBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// All returns a copy of the buffered records in insertion order.
func (b *ShortTermBuffer) All() []core.Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Interaction, len(b.records))
	copy(out, b.records)
	return out
}

// Drain returns all records in insertion order and clears the buffer.
// Promotion moves records, it never copies them: after Drain the buffer no
// longer owns them.
func (b *ShortTermBuffer) Drain() []core.Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = make([]core.Interaction, 0, b.capacity)
	return out
}

// Requeue puts records back at the front of the buffer, before anything
// added since the drain. Used when promotion aborts partway so the
// remaining records keep their original order for the retry.
func (b *ShortTermBuffer) Requeue(records []core.Interaction) {
	if len(records) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(append(make([]core.Interaction, 0, len(records)+len(b.records)), records...), b.records...)
}

type shortTermSnapshot struct {
	Records []core.Interaction `json:"records"`
}

// Snapshot serializes the buffer contents for persistence.
func (b *ShortTermBuffer) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Marshal(shortTermSnapshot{Records: b.records})
}

// Restore replaces the buffer contents from a snapshot blob.
func (b *ShortTermBuffer) Restore(blob []byte) error {
	var snap shortTermSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("decode short-term snapshot: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = snap.Records
	if b.records == nil {
		b.records = make([]core.Interaction, 0, b.capacity)
	}
	return nil
}
