package strategy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Background runs work whose result only ever reaches a store. Tasks get
// their own context so they outlive the request that spawned them; their
// errors are never reported to that request.
type Background struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBackground bounds optional tasks to limit concurrent runs, each task to
// timeout.
func NewBackground(limit int, timeout time.Duration) *Background {
	if limit <= 0 {
		limit = 32
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Background{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: timeout,
	}
}

// TryGo starts task unless the limit is reached, in which case the task is
// dropped and false is returned.
func (b *Background) TryGo(task func(ctx context.Context)) bool {
	if !b.sem.TryAcquire(1) {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.sem.Release(1)
		b.run(task)
	}()
	return true
}

// Go always starts task.
func (b *Background) Go(task func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(task)
	}()
}

func (b *Background) run(task func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	task(ctx)
}

// Wait blocks until every started task has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
