package memory

// sessionHeap is an array-backed binary max-heap over session heat.
// It stores (id, heat) pairs rather than session references, so a rebuild
// from the session map is the single way stale entries are resolved: the
// heap never outlives the sessions it indexes.
type sessionHeap struct {
	items []heapItem
}

type heapItem struct {
	id   string
	heat float64
}

func (h *sessionHeap) len() int { return len(h.items) }

// peek returns the hottest entry without removing it. O(1).
func (h *sessionHeap) peek() (heapItem, bool) {
	if len(h.items) == 0 {
		return heapItem{}, false
	}
	return h.items[0], true
}

// push inserts an entry. O(log n).
func (h *sessionHeap) push(id string, heat float64) {
	h.items = append(h.items, heapItem{id: id, heat: heat})
	h.siftUp(len(h.items) - 1)
}

// rebuild reconstructs the heap from scratch. O(n log n) worst case via
// bottom-up heapify; idempotent with respect to peek.
func (h *sessionHeap) rebuild(items []heapItem) {
	h.items = make([]heapItem, len(items))
	copy(h.items, items)
	for i := len(h.items)/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

func (h *sessionHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[parent].heat >= h.items[i].heat {
			return
		}
		h.items[parent], h.items[i] = h.items[i], h.items[parent]
		i = parent
	}
}

func (h *sessionHeap) siftDown(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		right := 2*i + 2
		largest := i
		if left < n && h.items[left].heat > h.items[largest].heat {
			largest = left
		}
		if right < n && h.items[right].heat > h.items[largest].heat {
			largest = right
		}
		if largest == i {
			return
		}
		h.items[i], h.items[largest] = h.items[largest], h.items[i]
		i = largest
	}
}
