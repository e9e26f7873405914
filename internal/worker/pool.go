// Package worker runs independent jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Stats tracks pool operational counters.
type Stats struct {
	Active    int64 `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// ErrClosed is returned when a job is submitted to a closed pool.
var ErrClosed = errors.New("worker pool is closed")

// PanicError reports a job that panicked instead of returning.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }

// Pool is a bounded goroutine pool. A panicking job is recovered and counted;
// it never takes the process down.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	stats  Stats
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// New creates a pool running at most size jobs at once.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Go starts job on a free slot. It blocks while the pool is at capacity and
// gives up when ctx is cancelled or the pool is closed while waiting.
func (p *Pool) Go(ctx context.Context, job func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}

	// wg.Add must happen under the lock so Close cannot slip between the
	// closed check and the Add.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrClosed
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.stats.Panicked, 1)
				atomic.AddInt64(&p.stats.Failed, 1)
			}
			atomic.AddInt64(&p.stats.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := job(ctx); err != nil {
			atomic.AddInt64(&p.stats.Failed, 1)
			return
		}
		atomic.AddInt64(&p.stats.Succeeded, 1)
	}()
	return nil
}

// Wait blocks until every started job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting jobs and waits for the running ones. Closing twice
// is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Succeeded: atomic.LoadInt64(&p.stats.Succeeded),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Panicked:  atomic.LoadInt64(&p.stats.Panicked),
	}
}

// Run executes job for every index in [0, n) on a pool of size goroutines
// and returns the per-index errors in input order. A job that panics yields
// a *PanicError; jobs not started because ctx ended yield ctx.Err().
func Run(ctx context.Context, size, n int, job func(ctx context.Context, i int) error) ([]error, Stats) {
	p := New(size)
	errs := make([]error, n)

	for i := range n {
		err := p.Go(ctx, func(ctx context.Context) error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &PanicError{Value: r}
					panic(r) // counted by the pool
				}
			}()
			errs[i] = job(ctx, i)
			return errs[i]
		})
		if err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}
	}

	p.Close()
	return errs, p.Stats()
}
