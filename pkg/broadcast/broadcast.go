// Package broadcast provides a latest-value fan-out for state that one writer
// updates and any number of readers watch.
package broadcast

import (
	"context"
	"sync"
)

// Broadcaster holds a current value and delivers every update to its
// subscribers.
//
// Each subscriber channel buffers a single value. When a subscriber falls
// behind, an undelivered value is replaced by the newer one, so Publish never
// blocks and a reader always ends up at the latest value.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[*subscriber[T]]struct{}
	closed bool
}

type subscriber[T any] struct {
	ch chan T
}

// New creates a Broadcaster whose current value is initial.
func New[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{
		value: initial,
		subs:  make(map[*subscriber[T]]struct{}),
	}
}

// Subscribe returns a channel that yields the current value immediately and
// then every published value in publish order. The channel is closed when ctx
// is done or the Broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) <-chan T {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	sub.ch <- b.value
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { b.remove(sub) })

	return sub.ch
}

// Value returns the current value.
func (b *Broadcaster[T]) Value() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Publish replaces the current value and offers it to every subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.value = v
	for sub := range b.subs {
		sub.offer(v)
	}
}

// Update calls fn with the current value and publishes the result when fn
// reports a change. fn runs with the Broadcaster locked and must not call
// back into it.
func (b *Broadcaster[T]) Update(fn func(current T) (T, bool)) T {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, changed := fn(b.value)
	if !changed || b.closed {
		return b.value
	}

	b.value = next
	for sub := range b.subs {
		sub.offer(next)
	}
	return next
}

// Close closes every subscriber channel. Later Subscribe calls return a
// closed channel and Publish becomes a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// offer must be called with the Broadcaster locked; Publish is the only sender.
func (s *subscriber[T]) offer(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}

	// Drop the stale pending value.
	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- v:
	default:
	}
}
