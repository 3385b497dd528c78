package control

import (
	"io"
	"sync"
)

// Pipe returns a connected pair of in-memory control connections, useful for
// tests and for co-located recorder/registry deployments. Envelopes sent on
// one end are received on the other, FIFO.
func Pipe() (Conn, Conn) {
	aToB := make(chan Envelope, 16)
	bToA := make(chan Envelope, 16)
	shared := &pipeShared{done: make(chan struct{})}

	a := &pipeConn{in: bToA, out: aToB, shared: shared}
	b := &pipeConn{in: aToB, out: bToA, shared: shared}
	return a, b
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	in     <-chan Envelope
	out    chan<- Envelope
	shared *pipeShared
}

func (p *pipeConn) Send(env Envelope) error {
	select {
	case p.out <- env:
		return nil
	case <-p.shared.done:
		return io.ErrClosedPipe
	}
}

func (p *pipeConn) Receive() (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.shared.done:
		return Envelope{}, io.EOF
	}
}

func (p *pipeConn) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}
