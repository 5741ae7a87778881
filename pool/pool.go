// Package pool bounds the number of concurrent remote calls made by bulk
// driver operations.
package pool

import (
	"context"
	"sync"
)

// Pool limits concurrency for bulk submission and termination work.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem: make(chan struct{}, size),
	}
}

// Go runs fn once a worker slot frees up. It blocks the caller while the pool
// is saturated, which naturally throttles how fast work is queued.
func (p *Pool) Go(ctx context.Context, fn func(context.Context)) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		if ctx == nil {
			ctx = context.Background()
		}
		fn(ctx)
	}()
}

// Wait blocks until all queued work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Each runs fn for every index in [0, n) across the pool and waits for all of
// them. Results keyed by index stay positionally aligned with the input.
func Each(ctx context.Context, size, n int, fn func(ctx context.Context, i int)) {
	p := New(size)
	for i := 0; i < n; i++ {
		i := i
		p.Go(ctx, func(ctx context.Context) {
			fn(ctx, i)
		})
	}
	p.Wait()
}
