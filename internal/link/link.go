package link

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("link closed")

// Conn is a bidirectional, message-framed link. Done is closed when the
// connection ends, whichever side closed it; Frames is never closed, so
// readers select on both.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Frames() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

// Dialer opens client-side connections to a device.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

const frameBuffer = 64

// frameQueue is the read side shared by the transports.
type frameQueue struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ch: make(chan []byte, frameBuffer), done: make(chan struct{})}
}

// push delivers a frame unless the queue is shut down. It blocks while the
// buffer is full so frames are neither reordered nor silently lost.
func (q *frameQueue) push(frame []byte) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- frame:
		return true
	case <-q.done:
		return false
	}
}

func (q *frameQueue) shutdown() {
	q.once.Do(func() { close(q.done) })
}

func (q *frameQueue) isDone() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
