// Package history retains the most recent telemetry for the monitor.
package history

import "sync"

// Window keeps the last N values pushed into it. It is safe for concurrent use.
type Window[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	full  bool
}

// NewWindow returns a window holding at most size values. A non-positive
// size is treated as 1.
func NewWindow[T any](size int) *Window[T] {
	if size < 1 {
		size = 1
	}
	return &Window[T]{items: make([]T, size)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window[T]) Push(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items[w.next] = v
	w.next = (w.next + 1) % len(w.items)
	if w.next == 0 {
		w.full = true
	}
}

// Snapshot returns the retained values oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.full {
		return append([]T(nil), w.items[:w.next]...)
	}
	out := make([]T, 0, len(w.items))
	out = append(out, w.items[w.next:]...)
	return append(out, w.items[:w.next]...)
}

// Latest returns the newest value, if any.
func (w *Window[T]) Latest() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.full && w.next == 0 {
		var zero T
		return zero, false
	}
	i := (w.next - 1 + len(w.items)) % len(w.items)
	return w.items[i], true
}

// Len returns the number of retained values.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.full {
		return len(w.items)
	}
	return w.next
}

// Cap returns the window size.
func (w *Window[T]) Cap() int { return len(w.items) }
