package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = sgerrors.E(sgerrors.KindOrchestrationFatal, "runner.Pool", "pool closed")

// task is one unit handed to a worker.
type task struct {
	ctx    context.Context
	fn     func(ctx context.Context)
	handle *Handle
}

// Handle tracks a submitted unit.
type Handle struct {
	done chan struct{}
	// panicked holds the recovered value when fn panicked.
	panicked any
}

// Wait blocks until the unit finished.
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed when the unit finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Panic returns the value the unit panicked with, or nil. Only valid after
// Done is closed.
func (h *Handle) Panic() any {
	return h.panicked
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Size       int   `json:"size"`
	InProgress int32 `json:"in_progress"`
	Completed  int64 `json:"completed"`
	Panicked   int64 `json:"panicked"`
}

// Pool runs units on a fixed number of worker goroutines. The tasks channel
// is unbuffered, so Submit only returns once a worker took the unit: the
// number of running units never exceeds the pool size, across every caller
// sharing the pool.
type Pool struct {
	size  int
	tasks chan task
	quit  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once

	inProgress int32
	completed  int64
	panicked   int64
}

// NewPool starts size workers. A size below one is treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size:  size,
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit hands fn to the next free worker, blocking until one is free. fn
// receives ctx. Submit fails when ctx is done or the pool is closed before a
// worker accepts the unit.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) (*Handle, error) {
	select {
	case <-p.quit:
		return nil, ErrPoolClosed
	default:
	}

	h := &Handle{done: make(chan struct{})}
	select {
	case p.tasks <- task{ctx: ctx, fn: fn, handle: h}:
		return h, nil
	case <-ctx.Done():
		return nil, sgerrors.E(sgerrors.KindTimeout, "runner.Pool.Submit", ctx.Err())
	case <-p.quit:
		return nil, ErrPoolClosed
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:       p.size,
		InProgress: atomic.LoadInt32(&p.inProgress),
		Completed:  atomic.LoadInt64(&p.completed),
		Panicked:   atomic.LoadInt64(&p.panicked),
	}
}

// Close stops accepting units and waits for running ones to finish or for
// ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.quit) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) run(t task) {
	atomic.AddInt32(&p.inProgress, 1)
	defer func() {
		if r := recover(); r != nil {
			t.handle.panicked = fmt.Sprintf("%v", r)
			atomic.AddInt64(&p.panicked, 1)
		}
		atomic.AddInt32(&p.inProgress, -1)
		atomic.AddInt64(&p.completed, 1)
		close(t.handle.done)
	}()
	t.fn(t.ctx)
}
