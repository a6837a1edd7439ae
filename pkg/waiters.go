package cache

// waiters.go implements the per-hash FIFO waiter gates distilled spec
// §4.7 requires so that concurrent operations against the same hash are
// serialized instead of racing against the filesystem: a second Open of a
// hash currently being doomed waits for the doom to finish (and vice
// versa, §"S4 — Doom during open-by-hash"), rather than both touching the
// same stream files at once.
//
// Grounded on the teacher's pkg/cache.go "pending waiters chained on a
// hash" pattern, generalized from the teacher's single waiter kind to this
// module's two (post-doom, post-open-by-hash). Each gate is a per-hash
// ordered queue of channels rather than Bind-style erased closures — the
// Go-idiomatic equivalent of distilled spec §5's "closures queued in
// post_doom_waiting[h] fire in insertion order": when the in-progress
// operation calls end(), every queued waiter is released, in the order it
// was enqueued, and (hash, kind) stops being in progress.
// OpenOrCreate's same-hash-same-moment collision de-duplication is grounded
// on golang.org/x/sync/singleflight, which the wider examples pack uses for
// exactly this "many callers, one in-flight operation" shape.
//
// © 2025 simplecache authors. MIT License.

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type waiterKind uint8

const (
	waitPostDoom waiterKind = iota
	waitPostOpenByHash
)

// waiterQueues holds the FIFO gate queues keyed by (hash, kind), plus the
// singleflight group OpenOrCreate uses to collapse concurrent
// create-or-open races onto a single filesystem operation.
type waiterQueues struct {
	mu    sync.Mutex
	queue map[uint64][]chan struct{}

	openOrCreate singleflight.Group
}

func newWaiterQueues() *waiterQueues {
	return &waiterQueues{queue: make(map[uint64][]chan struct{})}
}

func waiterMapKey(hash uint64, kind waiterKind) uint64 {
	// Fold kind into the low bit of a rotated hash; collisions between the
	// two kinds for the same hash are impossible since rotation is lossless
	// and kind only ever takes two values.
	return hash<<1 | uint64(kind)
}

// begin marks (hash, kind) as "in progress" so that later callers block
// behind it until end() is called. Must be paired with exactly one end().
func (w *waiterQueues) begin(hash uint64, kind waiterKind) {
	key := waiterMapKey(hash, kind)
	w.mu.Lock()
	if _, ok := w.queue[key]; !ok {
		w.queue[key] = []chan struct{}{}
	}
	w.mu.Unlock()
}

// end marks (hash, kind) as no longer "in progress" and releases every
// queued waiter, in the order they were enqueued. Released waiters re-check
// the gate themselves, so one that finds a fresh begin() queues again.
func (w *waiterQueues) end(hash uint64, kind waiterKind) {
	key := waiterMapKey(hash, kind)
	w.mu.Lock()
	q := w.queue[key]
	delete(w.queue, key)
	w.mu.Unlock()
	for _, ch := range q {
		close(ch)
	}
}

// waitTurn blocks the caller until (hash, kind) is not in progress: if it
// is in progress, the caller is appended to the queue and wakes when end()
// is called for it, which releases queued waiters in enqueue order.
// Returns immediately (wasQueued=false) if nothing is in progress, in which
// case the caller proceeds directly without ever being queued. ctx
// cancellation abandons the wait; the abandoned channel stays in the queue
// until the next end() closes it, which no one observes.
func (w *waiterQueues) waitTurn(ctx context.Context, hash uint64, kind waiterKind) (wasQueued bool, err error) {
	key := waiterMapKey(hash, kind)
	w.mu.Lock()
	q, inProgress := w.queue[key]
	if !inProgress {
		w.mu.Unlock()
		return false, nil
	}
	ch := make(chan struct{})
	w.queue[key] = append(q, ch)
	w.mu.Unlock()

	select {
	case <-ch:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// hasWaiters reports whether (hash, kind) is currently in progress (either
// actively running or with callers queued behind it).
func (w *waiterQueues) hasWaiters(hash uint64, kind waiterKind) bool {
	key := waiterMapKey(hash, kind)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.queue[key]
	return ok
}
