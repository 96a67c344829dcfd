// Package reorder releases out-of-order completions strictly in submission
// order.
package reorder

import (
	"errors"
	"fmt"
)

// ErrUnknownIndex is returned when a completion names an index that was never
// reserved or has already been delivered.
var ErrUnknownIndex = errors.New("reorder: unknown or delivered index")

type slot[T any] struct {
	value T
	done  bool
}

// Buffer is a ring of slots indexed by sequence number. Slots between the
// delivery cursor and the allocation counter are live; everything below the
// cursor has been delivered and freed.
//
// Buffer is not safe for concurrent use. It is owned by the single consumer
// that applies completions.
type Buffer[T any] struct {
	ring  []slot[T]
	start int    // ring position of the slot for index next
	next  uint64 // next index to deliver
	alloc uint64 // next index to hand out
}

// New returns an empty buffer with room for capacity in-flight entries before
// its first growth.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 4 {
		capacity = 4
	}

	return &Buffer[T]{ring: make([]slot[T], capacity)}
}

// Reserve allocates the next sequence index and inserts a pending slot for it.
// Indices are strictly increasing and never reused, including across Reset.
func (b *Buffer[T]) Reserve() uint64 {
	if b.Pending() == len(b.ring) {
		b.grow()
	}

	idx := b.alloc
	b.alloc++
	b.ring[b.pos(idx)] = slot[T]{}

	return idx
}

// Complete records value at index and returns the contiguous run of completed
// values starting at the delivery cursor, in index order. Delivered slots are
// freed and the cursor moves past them. The returned slice is nil when the
// cursor cannot advance yet.
func (b *Buffer[T]) Complete(index uint64, value T) ([]T, error) {
	if index < b.next || index >= b.alloc {
		return nil, fmt.Errorf("complete %d (next %d, allocated %d): %w", index, b.next, b.alloc, ErrUnknownIndex)
	}

	s := &b.ring[b.pos(index)]
	if s.done {
		return nil, fmt.Errorf("complete %d twice: %w", index, ErrUnknownIndex)
	}

	s.value = value
	s.done = true

	var out []T

	for b.next < b.alloc {
		head := &b.ring[b.start]
		if !head.done {
			break
		}

		out = append(out, head.value)
		*head = slot[T]{}
		b.start = (b.start + 1) % len(b.ring)
		b.next++
	}

	return out, nil
}

// Pending returns the number of reserved indices not yet delivered.
func (b *Buffer[T]) Pending() int { return int(b.alloc - b.next) }

// Next returns the index the buffer will deliver next.
func (b *Buffer[T]) Next() uint64 { return b.next }

// Len returns the number of completed entries waiting behind a gap.
func (b *Buffer[T]) Len() int {
	n := 0
	for i := b.next; i < b.alloc; i++ {
		if b.ring[b.pos(i)].done {
			n++
		}
	}

	return n
}

// Reset drops every pending slot. The allocation counter keeps counting so
// late completions for dropped indices are rejected with ErrUnknownIndex.
func (b *Buffer[T]) Reset() {
	clear(b.ring)
	b.start = 0
	b.next = b.alloc
}

func (b *Buffer[T]) pos(index uint64) int {
	return (b.start + int(index-b.next)) % len(b.ring)
}

func (b *Buffer[T]) grow() {
	n := b.Pending()
	ring := make([]slot[T], 2*len(b.ring))

	for i := range n {
		ring[i] = b.ring[(b.start+i)%len(b.ring)]
	}

	b.ring = ring
	b.start = 0
}
