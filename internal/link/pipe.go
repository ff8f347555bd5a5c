package link

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory ends. A frame sent on one end arrives
// on the other; closing either end closes both.
func Pipe() (Conn, Conn) {
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeEnd{state: shared, in: make(chan []byte, frameBuffer)}
	b := &pipeEnd{state: shared, in: make(chan []byte, frameBuffer)}
	a.peer, b.peer = b, a
	return a, b
}

type pipeState struct {
	done chan struct{}
	once sync.Once
}

type pipeEnd struct {
	state *pipeState
	in    chan []byte
	peer  *pipeEnd
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	buf := append([]byte(nil), frame...)
	select {
	case p.peer.in <- buf:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Frames() <-chan []byte { return p.in }

func (p *pipeEnd) Done() <-chan struct{} { return p.state.done }

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
