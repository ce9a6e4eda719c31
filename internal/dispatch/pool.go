package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Pool fans queued items out to a fixed set of workers. Submit never blocks:
// when the queue is full the item is dropped and counted, so a slow consumer
// cannot stall the producer. Handler errors and panics are contained inside
// the worker and never reach the submitter.
type Pool[T any] struct {
	workers int
	size    int
	logger  *slog.Logger
	fn      func(context.Context, T) error

	mu      sync.Mutex
	queue   chan T
	running bool
	dropped int64

	wg sync.WaitGroup
}

// NewPool creates a pool of the given worker count and queue capacity.
// The pool is idle until Start is called.
func NewPool[T any](workers, size int, logger *slog.Logger, fn func(context.Context, T) error) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool[T]{
		workers: workers,
		size:    size,
		logger:  logger,
		fn:      fn,
	}
}

// Start launches the workers. Starting a running pool is a no-op; a stopped
// pool can be started again with a fresh queue.
func (p *Pool[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.queue = make(chan T, p.size)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.queue)
	}
}

// Stop closes the queue and waits for the workers to drain it, bounded by ctx.
func (p *Pool[T]) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.queue)
	p.queue = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("dispatch pool drain timed out")
	}
}

// Submit queues one item without blocking. Reports false when the pool is
// stopped or the queue is full.
func (p *Pool[T]) Submit(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.queue == nil {
		return false
	}

	select {
	case p.queue <- v:
		return true
	default:
		p.dropped++
		return false
	}
}

// Dropped returns the number of items discarded due to backpressure.
func (p *Pool[T]) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Pool[T]) worker(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for v := range queue {
		p.handle(ctx, v)
	}
}

// handle isolates one item: an error is logged, a panic is contained.
func (p *Pool[T]) handle(ctx context.Context, v T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panic", "panic", r)
		}
	}()

	if err := p.fn(ctx, v); err != nil {
		p.logger.Error("handler error", "error", err)
	}
}
