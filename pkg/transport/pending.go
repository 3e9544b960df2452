package transport

import (
	"context"
	"sync"
)

// Pending is the single-settlement future returned by Send. It settles exactly
// once: with the correlated response, with nil for fire-and-forget sends, or
// with an error on timeout or disconnect.
type Pending struct {
	done chan struct{}
	once sync.Once
	msg  *Message
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) settle(msg *Message, err error) {
	p.once.Do(func() {
		p.msg = msg
		p.err = err
		close(p.done)
	})
}

// Done is closed when the future settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled outcome. Only valid after Done is closed.
func (p *Pending) Result() (*Message, error) {
	return p.msg, p.err
}

// Await blocks until settlement or context cancellation.
func (p *Pending) Await(ctx context.Context) (*Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
