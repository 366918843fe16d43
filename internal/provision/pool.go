package provision

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool runs jobs in goroutines detached from the request that spawned them.
// Capacity is bounded and every running job keeps a handle so the server can
// cancel and wait for it on shutdown.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	handles map[string]*handle
	wg      sync.WaitGroup
}

func NewPool(capacity int64) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(capacity),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*handle),
	}
}

// Spawn starts fn for key. It never blocks: when the pool is full or closed
// the error is returned immediately and fn is not run.
func (p *Pool) Spawn(key string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if !p.sem.TryAcquire(1) {
		return ErrPoolFull
	}

	ctx, cancel := context.WithCancel(p.ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	p.handles[key] = h
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer close(h.done)
		defer cancel()
		defer p.sem.Release(1)
		defer p.forget(key, h)
		defer func() {
			if r := recover(); r != nil {
				zap.S().Named("worker_pool").Errorw("job panicked", "key", key, "panic", r)
			}
		}()

		fn(ctx)
	}()
	return nil
}

// Done returns a channel closed when the job of key finishes. A key with no
// running job yields a closed channel.
func (p *Pool) Done(key string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[key]; ok {
		return h.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Shutdown refuses new jobs, cancels the running ones and waits for them
// until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, h := range p.handles {
		h.cancel()
	}
	p.mu.Unlock()

	p.cancel()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) forget(key string, h *handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[key] == h {
		delete(p.handles, key)
	}
}
