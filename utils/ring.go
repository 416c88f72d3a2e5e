package utils

import "iter"

// Ring is a fixed-capacity ring buffer. Pushing onto a full ring overwrites
// the oldest element. It is used by the validator for the trailing click-rate
// window.
type Ring[T any] struct {
	items []T
	head  int
	tail  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the maximum number of elements the ring can hold.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Push appends an item, dropping the oldest element if the ring is full.
func (r *Ring[T]) Push(item T) {
	r.items[r.tail] = item
	if r.count == len(r.items) {
		// Buffer is full, drop the oldest element located at head.
		r.head = (r.head + 1) % len(r.items)
	} else {
		r.count++
	}
	r.tail = (r.tail + 1) % len(r.items)
}

// Oldest returns the oldest element without removing it. ok is false if the
// ring is empty.
func (r *Ring[T]) Oldest() (item T, ok bool) {
	if r.count == 0 {
		return item, false
	}
	return r.items[r.head], true
}

// PopOldest removes and returns the oldest element. ok is false if the ring
// is empty.
func (r *Ring[T]) PopOldest() (item T, ok bool) {
	if r.count == 0 {
		return item, false
	}
	item = r.items[r.head]
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return item, true
}

// Iter yields elements from oldest to newest.
func (r *Ring[T]) Iter() iter.Seq[T] {
	return func(yield func(T) bool) {
		for index := range r.count {
			if !yield(r.items[(r.head+index)%len(r.items)]) {
				return
			}
		}
	}
}
