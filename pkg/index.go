package cache

// index.go is C4: the in-memory index — the entry map, size accounting,
// watermark tracking, the deferred writeback timer, and the
// execute-when-ready queue that lets callers enqueue work against an index
// that is still loading.
//
// Grounded on the teacher's pkg/shard.go (sync.Mutex-guarded map plus a
// generation counter) generalized to the spec's two-watermark,
// deferred-writeback, async-init semantics; the writeback scheduling shape
// and the execute-when-ready queue borrow the teacher's pkg/cache.go
// "pending ops wait on a channel until ready" idiom.
//
// © 2025 simplecache authors. MIT License.

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/simplecache/internal/evictor"
)

// readyCallback is queued by executeWhenReady while the index has not yet
// finished loading. err is ErrCancelled if the index is torn down first.
type readyCallback func(err error)

type index struct {
	mu sync.Mutex

	cfg *config

	entries  map[uint64]EntryMetadata
	sizeBytes uint64

	highWatermark int64
	lowWatermark  int64

	initialized bool
	initMethod  InitMethod
	initErr     error
	pending     []readyCallback

	removedBeforeInit map[uint64]struct{}

	writeTimer   *time.Timer
	writeReason  WriteReason
	dirty        bool
	closed       bool
	backgrounded bool

	flush func(reason WriteReason)

	metrics metricsSink
	logger  *zap.Logger
}

// bindFlush wires the writer callback the timer invokes on fire. Called
// once from New, before the index can observe any mutation.
func (ix *index) bindFlush(flush func(reason WriteReason)) {
	ix.mu.Lock()
	ix.flush = flush
	ix.mu.Unlock()
}

func newIndex(cfg *config, metrics metricsSink) *index {
	high, low := watermarks(cfg.maxBytes)
	return &index{
		cfg:               cfg,
		entries:           make(map[uint64]EntryMetadata, 1024),
		highWatermark:     high,
		lowWatermark:      low,
		removedBeforeInit: make(map[uint64]struct{}),
		metrics:           metrics,
		logger:            cfg.logger,
	}
}

// beginLoad is called once, from the cache runner, at startup. result comes
// from either loadIndexFromDisk or scanCacheDir+upgrade, decided by the
// caller (cache.go orchestrates that choice since it also owns the
// upgrader).
func (ix *index) beginLoad(result LoadResult) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	loaded := result.Entries
	if loaded == nil {
		loaded = make(map[uint64]EntryMetadata, 1024)
	}
	for hash := range ix.removedBeforeInit {
		delete(loaded, hash)
	}
	// Inserts made before init reflect fresher state than the loaded set.
	for hash, m := range ix.entries {
		loaded[hash] = m
	}
	ix.entries = loaded
	ix.removedBeforeInit = nil

	var total uint64
	for _, m := range ix.entries {
		total += m.GetEntrySize()
	}
	ix.sizeBytes = total
	ix.initMethod = result.InitMethod
	ix.initialized = true
	ix.metrics.SetEntryCount(len(ix.entries))
	ix.metrics.SetSizeBytes(ix.sizeBytes)

	pending := ix.pending
	ix.pending = nil
	for _, cb := range pending {
		cb(nil)
	}
}

// executeWhenReady runs cb immediately if the index is already loaded, or
// queues it otherwise. Matches distilled spec §4.2's execute_when_ready.
// cb receives initErr once set (§7: a version/experiment refusal means the
// index never becomes ready and every queued and future caller must
// observe that same error rather than silently seeing an empty cache).
func (ix *index) executeWhenReady(cb readyCallback) {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		cb(ErrClosed)
		return
	}
	if ix.initialized {
		err := ix.initErr
		ix.mu.Unlock()
		cb(err)
		return
	}
	ix.pending = append(ix.pending, cb)
	ix.mu.Unlock()
}

// failInit marks initialization as permanently refused: every pending and
// future executeWhenReady/waitReady caller observes err, and beginLoad must
// never run afterwards (§7 "refuse to open" on version/experiment
// mismatch).
func (ix *index) failInit(err error) {
	ix.mu.Lock()
	if ix.initialized {
		ix.mu.Unlock()
		return
	}
	ix.initialized = true
	ix.initErr = err
	pending := ix.pending
	ix.pending = nil
	ix.mu.Unlock()
	for _, cb := range pending {
		cb(err)
	}
}

// waitReady blocks the caller until the index has finished its initial
// load (or recovery scan), or ctx is cancelled, or the index is torn down
// first. This is the synchronous face of executeWhenReady: distilled spec
// §5 lists "all index queries that require initialization" and "any
// entry-creating call... when waiting behind a doom or an open-by-hash" as
// suspension points, and §4.2's Has()/UseIfExists() contracts only make
// sense relative to a fully-merged entries_set_ — consulting ix.entries
// before beginLoad has merged the loaded set with pre-init operations
// would silently treat every on-disk entry as absent.
func (ix *index) waitReady(ctx context.Context) error {
	done := make(chan error, 1)
	ix.executeWhenReady(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown cancels every still-pending execute_when_ready callback.
func (ix *index) shutdown() {
	ix.mu.Lock()
	ix.closed = true
	pending := ix.pending
	ix.pending = nil
	ix.mu.Unlock()
	for _, cb := range pending {
		cb(ErrCancelled)
	}
}

func (ix *index) get(hash uint64) (EntryMetadata, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	m, ok := ix.entries[hash]
	return m, ok
}

// insert adds or replaces an entry's metadata, updating the size total.
func (ix *index) insert(hash uint64, m EntryMetadata) {
	ix.mu.Lock()
	if !ix.initialized {
		delete(ix.removedBeforeInit, hash)
	}
	if old, ok := ix.entries[hash]; ok {
		ix.sizeBytes -= old.GetEntrySize()
	}
	ix.entries[hash] = m
	ix.sizeBytes += m.GetEntrySize()
	ix.dirty = true
	ix.postponeWritebackLocked()
	ix.metrics.SetEntryCount(len(ix.entries))
	ix.metrics.SetSizeBytes(ix.sizeBytes)
	ix.mu.Unlock()
}

// remove deletes an entry, if present, returning whether it was found.
func (ix *index) remove(hash uint64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.initialized {
		ix.removedBeforeInit[hash] = struct{}{}
	}
	m, ok := ix.entries[hash]
	if !ok {
		return false
	}
	delete(ix.entries, hash)
	ix.sizeBytes -= m.GetEntrySize()
	ix.dirty = true
	ix.postponeWritebackLocked()
	ix.metrics.SetEntryCount(len(ix.entries))
	ix.metrics.SetSizeBytes(ix.sizeBytes)
	return true
}

func (ix *index) removeRange(pred func(hash uint64, m EntryMetadata) bool) []uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var removed []uint64
	for hash, m := range ix.entries {
		if pred(hash, m) {
			removed = append(removed, hash)
		}
	}
	for _, hash := range removed {
		m := ix.entries[hash]
		delete(ix.entries, hash)
		ix.sizeBytes -= m.GetEntrySize()
		if !ix.initialized {
			ix.removedBeforeInit[hash] = struct{}{}
		}
	}
	if len(removed) > 0 {
		ix.dirty = true
		ix.postponeWritebackLocked()
		ix.metrics.SetEntryCount(len(ix.entries))
		ix.metrics.SetSizeBytes(ix.sizeBytes)
	}
	return removed
}

func (ix *index) totalSize() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.sizeBytes
}

func (ix *index) count() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// snapshotEntries returns a defensive copy of the full entry map, used by
// the writeback path so serialization never races a concurrent insert.
func (ix *index) snapshotEntries() map[uint64]EntryMetadata {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[uint64]EntryMetadata, len(ix.entries))
	for k, v := range ix.entries {
		out[k] = v
	}
	return out
}

// snapshotHashes returns every known hash, newest-insertion-order not
// preserved (the map has none); callers that need a stable sweep order
// (the iterator) sort it themselves.
func (ix *index) snapshotHashes() []uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]uint64, 0, len(ix.entries))
	for hash := range ix.entries {
		out = append(out, hash)
	}
	return out
}

// overHighWatermark reports whether an eviction sweep should run.
func (ix *index) overHighWatermark() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return int64(ix.sizeBytes) > ix.highWatermark
}

// candidatesForEviction builds the evictor input from a consistent
// snapshot of the current entry set.
func (ix *index) candidatesForEviction(now time.Time) ([]evictor.Candidate, uint64, int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cands := make([]evictor.Candidate, 0, len(ix.entries))
	for hash, m := range ix.entries {
		cands = append(cands, evictor.Candidate{
			Hash:            hash,
			LastUsedSeconds: m.GetLastUsedTime().Unix(),
			SizeBytes:       m.GetEntrySize(),
			HighPriority:    m.HasBit(HighPriority),
		})
	}
	gap := int64(ix.sizeBytes) - ix.lowWatermark
	if gap < 0 {
		gap = 0
	}
	return cands, uint64(gap), ix.lowWatermark
}

// setMaxSize recomputes the watermarks in place (SetMaxSize, §4.5).
func (ix *index) setMaxSize(maxBytes int64) {
	high, low := watermarks(maxBytes)
	ix.mu.Lock()
	ix.highWatermark = high
	ix.lowWatermark = low
	ix.mu.Unlock()
}

// --- deferred writeback (§4.2) ---

// postponeWritebackLocked (re-)arms the writeback timer; the caller must
// already hold ix.mu. Every state-changing index operation calls this
// after marking itself dirty, matching distilled spec §4.2's
// postpone_writing_to_disk: "start or restart the timer with delay =
// app_on_background ? 100ms : 20000ms". If uninitialized, does nothing —
// a pre-init mutation is captured by removedBeforeInit/the in-memory map
// instead, merged into the loaded set by beginLoad, and persisted by the
// next writeback after that.
func (ix *index) postponeWritebackLocked() {
	if !ix.initialized || ix.closed || ix.flush == nil {
		return
	}
	delay := ix.cfg.writebackForegroundDelay
	if ix.backgrounded {
		delay = ix.cfg.writebackBackgroundDelay
	}
	if ix.writeTimer != nil {
		ix.writeTimer.Stop()
	}
	ix.writeTimer = time.AfterFunc(delay, ix.onWritebackTimer)
}

func (ix *index) onWritebackTimer() {
	ix.mu.Lock()
	ix.writeTimer = nil
	dirty := ix.dirty
	ix.dirty = false
	flush := ix.flush
	ix.mu.Unlock()
	if dirty && flush != nil {
		flush(WriteReasonIdle)
	}
}

// setBackgrounded drives the app_on_background transition (§4.2): going
// to the background immediately forces a synchronous-reason writeback
// (ANDROID_STOPPED) rather than waiting out the foreground delay, and
// rearms the timer at the shorter backgrounded delay for subsequent
// mutations.
func (ix *index) setBackgrounded(backgrounded bool) {
	ix.mu.Lock()
	wasBackgrounded := ix.backgrounded
	ix.backgrounded = backgrounded
	if backgrounded && !wasBackgrounded {
		if ix.writeTimer != nil {
			ix.writeTimer.Stop()
			ix.writeTimer = nil
		}
		dirty := ix.dirty
		ix.dirty = false
		flush := ix.flush
		ix.mu.Unlock()
		if dirty && flush != nil {
			flush(WriteReasonAppBackgrounded)
		}
		return
	}
	ix.mu.Unlock()
}

// flushNow is used for shutdown writebacks, which are synchronous and
// reason-tagged rather than idle-timer-triggered.
func (ix *index) flushNow(reason WriteReason, flush func(reason WriteReason)) {
	ix.mu.Lock()
	if ix.writeTimer != nil {
		ix.writeTimer.Stop()
		ix.writeTimer = nil
	}
	dirty := ix.dirty
	ix.dirty = false
	ix.mu.Unlock()
	if dirty {
		flush(reason)
	}
}

// forceWriteback clears the dirty flag and flushes immediately with the
// given reason, regardless of any prior dirty state. Used once after a
// recovery scan (§4.2 "startup merge that required recovery" ->
// STARTUP_MERGE) so the freshly-rebuilt pickle replaces the missing or
// corrupt on-disk index without waiting out the idle timer.
func (ix *index) forceWriteback(reason WriteReason) {
	ix.mu.Lock()
	if ix.writeTimer != nil {
		ix.writeTimer.Stop()
		ix.writeTimer = nil
	}
	ix.dirty = false
	flush := ix.flush
	ix.mu.Unlock()
	if flush != nil {
		flush(reason)
	}
}
