package blebridge

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Pending is the completion handle of an asynchronous operation. It settles
// exactly once, either with a value or with an error.
type Pending[T any] struct {
	id    string
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{
		id:   ulid.Make().String(),
		done: make(chan struct{}),
	}
}

// ID identifies the operation in logs and on the wire.
func (p *Pending[T]) ID() string {
	return p.id
}

// Done is closed once the operation has settled.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Result blocks until the operation settles.
func (p *Pending[T]) Result() (T, error) {
	<-p.done
	return p.value, p.err
}

// Wait blocks until the operation settles or ctx is done. Giving up on the
// wait does not cancel the operation.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Pending[T]) resolve(v T) bool {
	return p.settle(v, nil)
}

func (p *Pending[T]) reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

func (p *Pending[T]) settle(v T, err error) bool {
	won := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		won = true
		close(p.done)
	})
	return won
}
