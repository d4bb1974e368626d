// Package ring provides a small mutex-protected bounded buffer that keeps
// the most recent N items appended to it.
package ring

import "sync"

// Buffer is a bounded FIFO window: appending beyond capacity drops the
// oldest items. The zero value is not usable; create one with New.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
}

// New creates a Buffer keeping at most limit items. limit must be positive.
func New[T any](limit int) *Buffer[T] {
	if limit <= 0 {
		panic("ring: non-positive limit")
	}
	return &Buffer[T]{
		items: make([]T, 0, limit),
		limit: limit,
	}
}

// Append adds an item, evicting the oldest item when the buffer is full.
func (b *Buffer[T]) Append(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == b.limit {
		copy(b.items, b.items[1:])
		b.items = b.items[:b.limit-1]
	}
	b.items = append(b.items, item)
}

// Snapshot returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, len(b.items))
	copy(out, b.items)

	return out
}

// Last returns the most recent item, if any.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		var zero T
		return zero, false
	}

	return b.items[len(b.items)-1], true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

// Clear discards all buffered items.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = b.items[:0]
}
