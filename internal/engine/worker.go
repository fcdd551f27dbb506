package engine

import (
	"context"
	"errors"
	"sync"
)

// errPoolClosed is returned by Go after Close.
var errPoolClosed = errors.New("node pool is closed")

// nodePool bounds how many nodes of a run execute at once. Every level
// submits through the same semaphore, so the bound holds across the whole
// run and not just within one level.
//
// A single goroutine owns submissions: the scheduler loop calls Go and
// Drain at level boundaries and Close when the run settles. Go must not
// race with Close.
type nodePool struct {
	slots  chan struct{}
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newNodePool(size int) *nodePool {
	if size <= 0 {
		size = 1
	}
	return &nodePool{
		slots:  make(chan struct{}, size),
		closed: make(chan struct{}),
	}
}

// Go runs fn on its own goroutine once a slot frees up. It blocks while
// the pool is saturated and gives up when ctx ends or the pool closes,
// in which case fn never runs.
func (p *nodePool) Go(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-p.closed:
		return errPoolClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return errPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Drain waits for every accepted fn to return. The scheduler calls it at
// each level gate, when nothing new is being submitted.
func (p *nodePool) Drain() {
	p.wg.Wait()
}

// Close rejects further submissions and waits for in-flight work.
func (p *nodePool) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}
