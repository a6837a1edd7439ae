package cache

// worker.go provides the two execution contexts distilled spec §4.6
// requires: a single-goroutine "cache runner" that runs initialization,
// index writebacks and eviction sweeps one at a time in submission order,
// and a bounded worker pool that performs blocking per-entry file I/O off
// that goroutine. Caller-driven bookkeeping (the active-entry map, index
// updates) runs on the caller's goroutine under its own mutexes.
//
// Grounded on the teacher's pkg/loader.go (a dedicated owner goroutine
// draining a chan func() of closures) for the sequenced runner, and on
// golang.org/x/sync/semaphore.Weighted — already a teacher dependency,
// used there to bound concurrent loader fan-out — for the worker pool.
//
// © 2025 simplecache authors. MIT License.

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// sequencedRunner serializes the jobs submitted to it onto a single
// goroutine. Submitted funcs run in submission order; Close blocks
// until the goroutine drains and exits (distilled spec: the cache runner
// blocks on shutdown so no bookkeeping mutation is ever lost mid-flight).
type sequencedRunner struct {
	jobs   chan func()
	done   chan struct{}
	closed chan struct{}
}

func newSequencedRunner() *sequencedRunner {
	r := &sequencedRunner{
		jobs:   make(chan func(), 256),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *sequencedRunner) loop() {
	defer close(r.done)
	for {
		select {
		case fn, ok := <-r.jobs:
			if !ok {
				return
			}
			fn()
		case <-r.closed:
			// Drain whatever is already queued before exiting, so a
			// Submit that raced the Close still runs.
			for {
				select {
				case fn := <-r.jobs:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues fn to run on the runner goroutine. It never blocks the
// caller beyond the channel send, and silently drops fn if the runner has
// already been closed (callers that care must check closed state via their
// own bookkeeping, mirroring how the coordinator handles post-Close calls).
func (r *sequencedRunner) Submit(fn func()) {
	select {
	case r.jobs <- fn:
	case <-r.closed:
	}
}

// Close stops accepting new work and blocks until the goroutine drains its
// queue and exits.
func (r *sequencedRunner) Close() {
	select {
	case <-r.closed:
		return
	default:
		close(r.closed)
	}
	<-r.done
}

// workerPool bounds concurrent blocking file operations. Unlike
// sequencedRunner, jobs submitted after Close are simply run anyway —
// distilled spec §4.6 requires in-flight entry I/O to finish rather than
// be abandoned mid-write, even during teardown (only Wait blocks for that).
type workerPool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newWorkerPool(concurrency int64) *workerPool {
	return &workerPool{sem: semaphore.NewWeighted(concurrency)}
}

// Go runs fn on a pool goroutine once a slot is free, blocking the caller
// (not the goroutine pool) until a slot opens up. ctx only bounds the wait
// for a slot, never the running job itself.
func (p *workerPool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.sem.Release(1)
		defer p.wg.Done()
		fn()
	}()
	return nil
}

// Wait blocks until every job submitted via Go has returned.
func (p *workerPool) Wait() {
	p.wg.Wait()
}
