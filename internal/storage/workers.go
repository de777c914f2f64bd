package storage

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// workerPool runs indexing jobs with bounded concurrency so a large corpus
// does not flood the embedding service.
type workerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
}

func newWorkerPool(parent context.Context, concurrency, queueSize int) (*workerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &workerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	pool.start(concurrency)
	return pool, nil
}

func (p *workerPool) start(concurrency int) {
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					job(p.ctx)
				}
			}
		}()
	}
}

func (p *workerPool) submit(ctx context.Context, fn job) error {
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- fn:
		return nil
	}
}

// wait closes the queue and blocks until in-flight jobs finish.
func (p *workerPool) wait() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
}
