package delivery

import "sync"

const defaultDedupCapacity = 1024

// Deduper remembers the keys it has let through and rejects repeats.
// Memory is bounded: past capacity the oldest key is forgotten first.
type Deduper[K comparable] struct {
	mu       sync.Mutex
	seen     map[K]struct{}
	order    []K
	capacity int
}

func NewDeduper[K comparable](capacity int) *Deduper[K] {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &Deduper[K]{seen: make(map[K]struct{}), capacity: capacity}
}

// First reports whether key is new, and records it.
func (d *Deduper[K]) First(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}

func (d *Deduper[K]) Seen(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

func (d *Deduper[K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
