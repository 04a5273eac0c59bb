// internal/monitoring/ring.go
package monitoring

// ring is a fixed-capacity FIFO. Pushing into a full ring evicts the oldest
// entry in O(1).
type ring[T any] struct {
	buf   []T
	head  int // index of the oldest entry
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v and reports whether the oldest entry was evicted
func (r *ring[T]) push(v T) bool {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

func (r *ring[T]) len() int { return r.count }

// at returns the i-th entry, oldest first
func (r *ring[T]) at(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// items returns the entries oldest first
func (r *ring[T]) items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.at(i)
	}
	return out
}

// retain keeps the entries for which keep returns true, preserving order,
// and returns how many were removed
func (r *ring[T]) retain(keep func(T) bool) int {
	kept := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		if v := r.at(i); keep(v) {
			kept = append(kept, v)
		}
	}
	removed := r.count - len(kept)
	if removed == 0 {
		return 0
	}
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	copy(r.buf, kept)
	r.head = 0
	r.count = len(kept)
	return removed
}

// resize changes the capacity, keeping the newest entries
func (r *ring[T]) resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	items := r.items()
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	r.buf = make([]T, capacity)
	copy(r.buf, items)
	r.head = 0
	r.count = len(items)
}
