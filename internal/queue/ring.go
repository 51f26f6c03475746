// Package queue provides the FIFO container behind the event queue.
package queue

// Ring is a growable circular FIFO. It is not goroutine-safe; callers
// serialize access.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates a Ring with room for prealloc items before it has to grow.
func NewRing[T any](prealloc int) *Ring[T] {
	if prealloc < 1 {
		prealloc = 1
	}
	return &Ring[T]{items: make([]T, prealloc)}
}

// Push adds an item to the tail of the ring, growing the backing slice when full.
func (r *Ring[T]) Push(item T) {
	if r.size == len(r.items) {
		r.grow()
	}
	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
}

// Pop removes and returns the item at the head of the ring.
// ok is false when the ring is empty.
func (r *Ring[T]) Pop() (item T, ok bool) {
	if r.size == 0 {
		return item, false
	}

	var zero T
	item = r.items[r.head]
	r.items[r.head] = zero // release references held by the slot
	r.head = (r.head + 1) % len(r.items)
	r.size--

	return item, true
}

// Peek returns the item at the head of the ring without removing it.
func (r *Ring[T]) Peek() (item T, ok bool) {
	if r.size == 0 {
		return item, false
	}
	return r.items[r.head], true
}

// Reset empties the ring, keeping its capacity.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// IsEmpty returns true if the ring holds no items.
func (r *Ring[T]) IsEmpty() bool {
	return r.size == 0
}

// Len returns the number of items in the ring.
func (r *Ring[T]) Len() int {
	return r.size
}

func (r *Ring[T]) grow() {
	items := make([]T, len(r.items)*2)
	for i := 0; i < r.size; i++ {
		items[i] = r.items[(r.head+i)%len(r.items)]
	}
	r.items = items
	r.head = 0
}
