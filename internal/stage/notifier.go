package stage

import (
	"context"
	"sync"
)

// Broadcaster is a callback registry. Publish invokes every subscriber
// synchronously, in subscription order, on the calling goroutine.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers v to a snapshot of the current subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	subs := append([]subscriber[T](nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Notifier holds a single comparable value, broadcasts on every change and
// supports level-triggered waits on the value.
//
// Set is expected to be called from one goroutine (the executor); Get and
// Await are safe from any goroutine.
type Notifier[S comparable] struct {
	mu      sync.Mutex
	value   S
	changed chan struct{}
	obs     Broadcaster[S]
}

// NewNotifier returns a Notifier holding initial.
func NewNotifier[S comparable](initial S) *Notifier[S] {
	return &Notifier[S]{value: initial, changed: make(chan struct{})}
}

// Get returns the current value.
func (n *Notifier[S]) Get() S {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.value
}

// Set commits v and notifies observers. It reports whether the value changed;
// writing the current value again is a no-op and does not notify.
func (n *Notifier[S]) Set(v S) bool {
	n.mu.Lock()
	if n.value == v {
		n.mu.Unlock()
		return false
	}

	n.value = v
	close(n.changed)
	n.changed = make(chan struct{})
	n.mu.Unlock()

	n.obs.Publish(v)

	return true
}

// Subscribe registers an observer for value changes.
func (n *Notifier[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	return n.obs.Subscribe(fn)
}

// Await blocks until pred holds for the current value or ctx is done. The
// predicate is re-evaluated against the latest value after every change, so a
// value that flips and flips back between two checks is still observed at
// its final level.
func (n *Notifier[S]) Await(ctx context.Context, pred func(S) bool) (S, error) {
	for {
		n.mu.Lock()
		v := n.value
		changed := n.changed
		n.mu.Unlock()

		if pred(v) {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-changed:
		}
	}
}
