package bus

import "sync"

// Bus delivers every published value to the handlers registered at the time
// of publication. Handlers run synchronously on the publisher's goroutine, in
// registration order. Past values are not replayed. Safe for concurrent
// publishers and subscribers.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New creates a ready-to-use Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Subscribe registers fn and returns the handle that removes it again.
// Calling the handle more than once is harmless.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.drop(id) })
	}
}

// Publish hands v to a snapshot of the current handlers, so a handler may
// unsubscribe itself without deadlocking.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of registered handlers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clear drops every handler.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

func (b *Bus[T]) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// keep order: handlers fire in registration order
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
