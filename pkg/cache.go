package cache

// cache.go is C7: the Backend coordinator. It owns the index, the active
// entry table, the waiter queues, and the two execution contexts (the
// sequenced runner for bookkeeping, the worker pool for blocking file
// I/O), and exposes the public Open/Create/Doom/iteration surface.
//
// Grounded on the teacher's pkg/cache.go top-level Cache type: a small
// struct wiring together config, metrics, and a loader, with every public
// method funneling through a single synchronization point. Mass-doom's
// "aggregate internal errors, report only the first" behavior is grounded
// on go.uber.org/multierr, already a teacher dependency for its shard
// rebalancing error paths.
//
// © 2025 simplecache authors. MIT License.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Voskan/simplecache/internal/evictor"
)

// Backend is the entry point of this module: one cache directory, one
// Backend. Construct with New, always Close when done.
type Backend struct {
	cfg     *config
	dir     string
	canon   string
	logger  *zap.Logger
	metrics metricsSink

	idx     *index
	runner  *sequencedRunner
	pool    *workerPool
	waiters *waiterQueues

	tracker *cleanupTracker

	activeMu sync.Mutex
	active   map[uint64]*activeEntry

	closed bool
}

// New constructs a Backend for dir, applying opts on top of the defaults
// for cacheType, and kicks off asynchronous initialization: the returned
// Backend is usable immediately (operations queue behind
// executeWhenReady), it need not block the caller for the directory scan
// or index load to finish.
func New(dir string, maxBytes int64, cacheType CacheType, opts ...Option) (*Backend, error) {
	cfg := defaultConfig(dir, maxBytes, cacheType)
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPathError, err)
	}

	tracker, canon, err := acquireCleanupTracker(cfg.dir)
	if err != nil {
		return nil, err
	}

	metrics := newMetricsSink(cfg)
	b := &Backend{
		cfg:     cfg,
		dir:     cfg.dir,
		canon:   canon,
		logger:  cfg.logger,
		metrics: metrics,
		idx:     newIndex(cfg, metrics),
		runner:  newSequencedRunner(),
		pool:    newWorkerPool(cfg.workerPoolConcurrency),
		waiters: newWaiterQueues(),
		tracker: tracker,
		active:  make(map[uint64]*activeEntry),
	}

	// Index writebacks are bookkeeping, not per-entry I/O, so they run on
	// the cache runner (§4.6) rather than the worker pool — the same
	// executor that performs the initial directory scan/load.
	b.idx.bindFlush(func(reason WriteReason) {
		b.runner.Submit(func() { b.flush(reason) })
	})
	b.runner.Submit(func() { b.initialize() })
	return b, nil
}

// poolDo dispatches fn to the worker pool and blocks the caller until it
// completes, bridging the caller's own goroutine to the bounded pool the
// way distilled spec §1/§4.6 describes ("bridges the caller's request
// thread to a blocking worker pool"). Used for per-entry file I/O: opening
// or creating an entry's stream files, and mass-doom file deletion.
func (b *Backend) poolDo(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type result struct {
		v   interface{}
		err error
	}
	resCh := make(chan result, 1)
	if err := b.pool.Go(ctx, func() {
		v, err := fn()
		resCh <- result{v, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-resCh:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// initialize runs once on the runner goroutine: read the fake index,
// decide between a straight load, a version upgrade, or a full directory
// scan, then hand the result to the index.
func (b *Backend) initialize() {
	fi, exists, err := readFakeIndex(b.dir)
	if err != nil {
		// readFakeIndex only returns a non-nil error for a version/experiment
		// gate (ErrVersionTooOld, ErrVersionFromTheFuture, ErrExperimentChange)
		// or a path error reading the sentinel itself — all three are §7
		// "refuse to open" conditions, not recoverable by a directory scan: a
		// scan would silently mask the mismatch by rebuilding the index under
		// the same incompatible on-disk layout.
		b.logger.Warn("simplecache: refusing to open, fake index failed version gate", zap.Error(err))
		b.idx.failInit(err)
		return
	}
	if !exists {
		b.recoverFromScan()
		return
	}

	if fi.Version == legacyV5Version {
		// v5's real index lived directly under the cache directory, not
		// under index-dir/, so there is nothing for loadIndexFromDisk to
		// find there; migrate first (§4.4 "v5 -> v6"), then fall through
		// to a directory scan like any other empty/missing index.
		if err := migrateLegacyV5(b.dir, b.logger); err != nil {
			b.logger.Warn("simplecache: v5 migration failed, recovering from directory scan", zap.Error(err))
		}
		b.recoverFromScan()
		return
	}

	dirInfo, statErr := os.Stat(b.dir)
	if statErr != nil {
		b.logger.Warn("simplecache: cache dir stat failed, recovering from directory scan", zap.Error(statErr))
		b.recoverFromScan()
		return
	}

	result := loadIndexFromDisk(b.dir, b.cfg.maxEntriesInIndex, dirInfo.ModTime().Unix())
	if !result.DidLoad {
		b.recoverFromScan()
		return
	}

	if fi.Version != currentVersion {
		var total uint64
		for _, m := range result.Entries {
			total += m.GetEntrySize()
		}
		if err := upgradeIfNeeded(b.dir, b.logger, result.Entries, total, fi.Version, b.cfg.cacheType); err != nil {
			b.logger.Warn("simplecache: index upgrade failed, recovering from directory scan", zap.Error(err))
			b.recoverFromScan()
			return
		}
	}

	b.idx.beginLoad(result)
}

// WaitReady blocks until initialization has finished, returning the refusal
// error (ErrVersionTooOld, ErrVersionFromTheFuture, ErrExperimentChange, or
// a wrapped ErrPathError) if initialize() refused to open the directory.
// Every other public method already waits on this internally; WaitReady
// exists for callers that want to observe the refusal up front, per §6's
// init() -> future<ok> contract.
func (b *Backend) WaitReady(ctx context.Context) error {
	return b.idx.waitReady(ctx)
}

func (b *Backend) recoverFromScan() {
	entries, err := scanCacheDir(b.dir, b.logger)
	if err != nil {
		b.logger.Error("simplecache: directory scan failed, starting empty", zap.Error(err))
		entries = make(map[uint64]EntryMetadata)
	}
	b.idx.beginLoad(LoadResult{DidLoad: false, InitMethod: InitRecovered, Entries: entries})
	writeFakeIndex(b.dir)
	// Recovery always sets flush_required (§4.3): persist the
	// freshly-rebuilt pickle immediately instead of waiting for the next
	// mutation to arm the idle timer.
	b.idx.forceWriteback(WriteReasonStartupMerge)
}

func (b *Backend) flush(reason WriteReason) {
	entries := b.idx.snapshotEntries()
	if err := writeIndexAtomic(b.dir, reason, entries, b.idx.totalSize()); err != nil {
		b.logger.Warn("simplecache: index writeback failed", zap.Error(err))
	}
}

// --- active entry table ---

// trackActive installs ae as the canonical active entry for its hash, or,
// if another goroutine already won that race, retains and returns the
// existing one instead. The caller must discard() ae (not release()) when
// winner != ae: ae was never tracked, so releasing it through the normal
// path would incorrectly untrack/doom the real winner (they share a hash).
func (b *Backend) trackActive(ae *activeEntry) (winner *activeEntry, installed bool) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	if existing, ok := b.active[ae.hash]; ok {
		existing.retain()
		return existing, false
	}
	b.active[ae.hash] = ae
	return ae, true
}

func (b *Backend) untrackActive(hash uint64) {
	b.activeMu.Lock()
	delete(b.active, hash)
	b.activeMu.Unlock()
}

func (b *Backend) lookupActive(hash uint64) (*activeEntry, bool) {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	ae, ok := b.active[hash]
	if ok {
		ae.retain()
	}
	return ae, ok
}

func (b *Backend) wrapHandle(ae *activeEntry) EntryHandle {
	return &entryHandleImpl{ae: ae, backend: b}
}

// --- Open / Create / OpenOrCreate (§4.7) ---

// Open returns a handle to the existing entry for key, or ErrNotFound if
// none exists. Concurrent Opens of the same key share one activeEntry.
func (b *Backend) Open(ctx context.Context, key string) (EntryHandle, error) {
	return b.openOrCreateByHash(ctx, hashKeyString(key), key, false, false)
}

// Create makes a brand-new entry for key: an open entry for the same hash
// is doomed first, and the stream files are opened truncated, so Create
// always starts from empty streams (§4.7).
func (b *Backend) Create(ctx context.Context, key string) (EntryHandle, error) {
	return b.openOrCreateByHash(ctx, hashKeyString(key), key, true, false)
}

// OpenOrCreate opens key if present, otherwise creates it, collapsing
// concurrent identical requests onto one filesystem operation via
// singleflight.
func (b *Backend) OpenOrCreate(ctx context.Context, key string) (EntryHandle, error) {
	return b.openOrCreateByHash(ctx, hashKeyString(key), key, false, true)
}

func (b *Backend) openOrCreateByHash(ctx context.Context, hash uint64, key string, forceCreate, fallbackCreate bool) (EntryHandle, error) {
	if err := b.idx.waitReady(ctx); err != nil {
		return nil, err
	}
	if err := b.awaitHashReady(ctx, hash); err != nil {
		return nil, err
	}

	if ae, ok := b.lookupActive(hash); ok {
		if !forceCreate && ae.key == key {
			return b.wrapHandle(ae), nil
		}
		// Either Create (always starts from empty streams) or a hash
		// collision with a different key (§4.7 "Collision handling"): doom
		// the incumbent and wait for it to fully release before retrying,
		// so the fresh request never races the old one's file removal.
		b.doomActiveEntry(ae)
		ae.release()
		if err := b.awaitHashReady(ctx, hash); err != nil {
			return nil, err
		}
	}

	sfKey := fmt.Sprintf("%d:%v:%v", hash, forceCreate, fallbackCreate)
	v, err, _ := b.waiters.openOrCreate.Do(sfKey, func() (interface{}, error) {
		_, existsInIndex := b.idx.get(hash)

		create := forceCreate
		if !existsInIndex && !forceCreate {
			if !fallbackCreate {
				return nil, ErrNotFound
			}
			create = true
		}

		v, err := b.poolDo(ctx, func() (interface{}, error) {
			return openActiveEntry(b.dir, hash, key, create, b.onActiveRelease)
		})
		if err != nil {
			return nil, err
		}
		ae := v.(*activeEntry)
		if winner, installed := b.trackActive(ae); !installed {
			// Lost a race to another goroutine that inserted first; reuse
			// theirs and drop what we just opened.
			ae.discard()
			ae = winner
		}

		meta, _ := b.idx.get(hash)
		if create {
			meta = EntryMetadata{}
			if b.cfg.cacheType.isAppCache() {
				// §4.2/§9: app-cache entries carry a prefetch-size hint, not
				// a last-used timestamp, in this field; -1 means "no hint
				// yet", matching the original's EntryMetadata(-1, 0u) insert.
				meta.SetTrailerPrefetchSize(-1)
			} else {
				meta.SetLastUsedTime(time.Now())
			}
			b.idx.insert(hash, meta)
			b.metrics.ObserveCreate()
		} else {
			// UseIfExists (§4.2, §9): app-cache mode does not track access
			// times, so an open of an existing entry neither bumps the
			// timestamp nor re-inserts the metadata.
			if !b.cfg.cacheType.isAppCache() {
				meta.SetLastUsedTime(time.Now())
				b.idx.insert(hash, meta)
			}
			b.metrics.ObserveOpen(true)
		}
		return ae, nil
	})
	if err != nil {
		if err == ErrNotFound {
			b.metrics.ObserveOpen(false)
		}
		return nil, err
	}
	return b.wrapHandle(v.(*activeEntry)), nil
}

func (b *Backend) onActiveRelease(hash uint64, doomed bool) {
	b.untrackActive(hash)
	if doomed {
		b.idx.remove(hash)
		b.waiters.end(hash, waitPostDoom)
	}
	b.maybeEvict()
}

// --- Doom family (§4.7) ---

// Doom removes key's entry, doom-ing any currently-open handle so its
// files are unlinked once the last reference releases it. A doom for a
// hash that currently has an open-by-hash (iterator) resolution in flight
// queues behind it per §4.7's open_entry_from_hash / doom ordering (S4).
func (b *Backend) Doom(ctx context.Context, key string) error {
	hash := hashKeyString(key)
	return b.doomHash(ctx, hash)
}

func (b *Backend) doomHash(ctx context.Context, hash uint64) error {
	if err := b.idx.waitReady(ctx); err != nil {
		return err
	}
	if _, err := b.waiters.waitTurn(ctx, hash, waitPostOpenByHash); err != nil {
		return err
	}
	if ae, ok := b.lookupActive(hash); ok {
		b.doomActiveEntry(ae)
		ae.release()
		return nil
	}
	if !b.idx.remove(hash) {
		return ErrNotFound
	}
	b.poolDo(ctx, func() (interface{}, error) {
		for i := 0; i < streamCount; i++ {
			os.Remove(filepath.Join(b.dir, streamFileName(hash, i)))
		}
		return nil, nil
	})
	b.metrics.ObserveDoom()
	return nil
}

// doomActiveEntry marks ae doomed and removes its index entry immediately
// (distilled spec §4.7 step 3/4: index removal happens at doom-start, not
// doom-completion). It opens the post-doom gate so concurrent openers of
// the same hash queue behind the doom instead of racing its file removal;
// the gate closes in onActiveRelease once the last handle actually drops
// the files.
func (b *Backend) doomActiveEntry(ae *activeEntry) {
	b.waiters.begin(ae.hash, waitPostDoom)
	ae.markDoomed()
	b.idx.remove(ae.hash)
	b.metrics.ObserveDoom()
}

// awaitHashReady blocks until hash has no in-flight doom or open-by-hash
// resolution ahead of the caller in the per-hash FIFO (§4.7, §5 "Per-hash
// FIFO"). Both gates are re-checked after each wake, since a fresh doom
// may have started while this caller was queued behind the previous one.
func (b *Backend) awaitHashReady(ctx context.Context, hash uint64) error {
	for {
		queued, err := b.waiters.waitTurn(ctx, hash, waitPostDoom)
		if err != nil {
			return err
		}
		if queued {
			continue
		}
		queued, err = b.waiters.waitTurn(ctx, hash, waitPostOpenByHash)
		if err != nil {
			return err
		}
		if queued {
			continue
		}
		return nil
	}
}

// DoomAll removes every entry. Internal per-hash failures are aggregated
// with multierr but only the first is surfaced to the caller, matching the
// teacher's mass-operation error reporting convention.
func (b *Backend) DoomAll(ctx context.Context) error {
	return b.doomWhere(ctx, func(uint64, EntryMetadata) bool { return true })
}

// DoomBetween removes every entry last used within [from, to).
func (b *Backend) DoomBetween(ctx context.Context, from, to time.Time) error {
	fromSec, toSec := from.Unix(), to.Unix()
	return b.doomWhere(ctx, func(_ uint64, m EntryMetadata) bool {
		t := m.GetLastUsedTime()
		if t.IsZero() {
			return false
		}
		sec := t.Unix()
		return sec >= fromSec && sec < toSec
	})
}

// DoomSince removes every entry last used at or after since.
func (b *Backend) DoomSince(ctx context.Context, since time.Time) error {
	sinceSec := since.Unix()
	return b.doomWhere(ctx, func(_ uint64, m EntryMetadata) bool {
		t := m.GetLastUsedTime()
		return !t.IsZero() && t.Unix() >= sinceSec
	})
}

// doomWhere is the mass-doom protocol of distilled spec §4.7
// doom_entries: hashes with a live active entry are "individually
// doomable" (doomed directly through their handle, to avoid racing
// in-flight I/O), everything else is "mass doomable" and handed to the
// worker pool as one batch of file deletions. The call returns only after
// every mass-doomable deletion has been attempted; it does not return early
// on the first error. Deletion errors are aggregated via multierr and only
// the first is returned. Individually doomed entries are not awaited: their
// files are removed when their last handle closes.
func (b *Backend) doomWhere(ctx context.Context, pred func(uint64, EntryMetadata) bool) error {
	if err := b.idx.waitReady(ctx); err != nil {
		return err
	}
	hashes := b.idx.removeRange(pred)
	var massDoomable []uint64
	for _, hash := range hashes {
		if ae, ok := b.lookupActive(hash); ok {
			b.waiters.begin(hash, waitPostDoom)
			ae.markDoomed()
			ae.release()
			continue
		}
		massDoomable = append(massDoomable, hash)
	}

	var combined error
	if len(massDoomable) > 0 {
		_, err := b.poolDo(ctx, func() (interface{}, error) {
			var inner error
			for _, hash := range massDoomable {
				for i := 0; i < streamCount; i++ {
					if err := os.Remove(filepath.Join(b.dir, streamFileName(hash, i))); err != nil && !os.IsNotExist(err) {
						inner = multierr.Append(inner, fmt.Errorf("%w: %v", ErrEntryIOFailure, err))
					}
				}
			}
			return nil, inner
		})
		combined = err
	}

	b.metrics.ObserveDoom()
	if combined != nil {
		if errs := multierr.Errors(combined); len(errs) > 0 {
			return errs[0]
		}
		return combined
	}
	return nil
}

// --- size / count / iteration (§4.5, §4.9) ---

func (b *Backend) SizeOfAll(ctx context.Context) uint64 {
	b.idx.waitReady(ctx)
	return b.idx.totalSize()
}

func (b *Backend) SizeBetween(ctx context.Context, from, to time.Time) uint64 {
	b.idx.waitReady(ctx)
	fromSec, toSec := from.Unix(), to.Unix()
	var total uint64
	for _, hash := range b.idx.snapshotHashes() {
		m, ok := b.idx.get(hash)
		if !ok {
			continue
		}
		t := m.GetLastUsedTime()
		if t.IsZero() {
			continue
		}
		sec := t.Unix()
		if sec >= fromSec && sec < toSec {
			total += m.GetEntrySize()
		}
	}
	return total
}

func (b *Backend) EntryCount() int {
	b.idx.waitReady(context.Background())
	return b.idx.count()
}

// MaxFileSize caps any single entry's total size at one eighth of the
// cache's overall budget (§4.7, matching the original's kMaxFileRatio).
func (b *Backend) MaxFileSize() int64 { return b.cfg.maxBytes / 8 }

// SetMaxSize changes the max cache size, recomputing watermarks and
// triggering an eviction sweep if the new high watermark is already
// exceeded.
func (b *Backend) SetMaxSize(maxBytes int64) error {
	if maxBytes <= 0 {
		return errInvalidMaxSize
	}
	b.cfg.maxBytes = maxBytes
	b.idx.setMaxSize(maxBytes)
	b.maybeEvict()
	return nil
}

// SetAppBackgrounded drives the app_on_background flag (§3, §4.2): once
// true, the writeback timer uses the shorter backgrounded delay and the
// transition itself forces an immediate ANDROID_STOPPED writeback.
func (b *Backend) SetAppBackgrounded(backgrounded bool) {
	b.idx.setBackgrounded(backgrounded)
}

// ExternalCacheHit records a hit observed outside this process's own
// Open/Create calls (e.g. a shared HTTP cache layer in front of this
// Backend), bumping the entry's last-used time without touching its data.
func (b *Backend) ExternalCacheHit(key string) {
	b.idx.waitReady(context.Background())
	hash := hashKeyString(key)
	if m, ok := b.idx.get(hash); ok {
		m.SetLastUsedTime(time.Now())
		b.idx.insert(hash, m)
	}
}

func (b *Backend) entryLastUsed(hash uint64) int64 {
	if m, ok := b.idx.get(hash); ok {
		return m.GetLastUsedTime().Unix()
	}
	return 0
}

func (b *Backend) setInMemoryData(hash uint64, v uint8) {
	m, _ := b.idx.get(hash)
	m.SetInMemoryData(v)
	b.idx.insert(hash, m)
}

func (b *Backend) inMemoryData(hash uint64) uint8 {
	m, _ := b.idx.get(hash)
	return m.GetInMemoryData()
}

func (b *Backend) touchSize(hash uint64) {
	ae, ok := b.lookupActive(hash)
	if !ok {
		return
	}
	defer ae.release()
	var size uint64
	for i := 0; i < streamCount; i++ {
		size += uint64(ae.streamSize(i))
	}
	m, _ := b.idx.get(hash)
	m.SetEntrySize(size)
	if !b.cfg.cacheType.isAppCache() {
		m.SetLastUsedTime(time.Now())
	}
	b.idx.insert(hash, m)
}

func (b *Backend) setTrailerPrefetchSize(hash uint64, size int32) {
	m, _ := b.idx.get(hash)
	m.SetTrailerPrefetchSize(size)
	b.idx.insert(hash, m)
}

func (b *Backend) trailerPrefetchSize(hash uint64) int32 {
	m, _ := b.idx.get(hash)
	return m.GetTrailerPrefetchSize()
}

// Iterator walks a point-in-time snapshot of hashes back-to-front, so
// entries doomed mid-iteration are simply skipped rather than causing a
// repeat or a panic.
type Iterator struct {
	b      *Backend
	hashes []uint64
	pos    int
}

// NewIterator returns an Iterator over every hash currently in the index.
// Per §4.7 "Iteration" step 1, it first defers until the index has finished
// loading so the snapshot reflects the merged (not partially-loaded) set.
func (b *Backend) NewIterator() *Iterator {
	b.idx.waitReady(context.Background())
	hashes := b.idx.snapshotHashes()
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return &Iterator{b: b, hashes: hashes, pos: len(hashes)}
}

// Next returns the next entry's handle, or ErrNotFound once exhausted.
// Each hash resolution opens the post-open-by-hash gate (§4.7
// open_entry_from_hash) so a concurrent Doom for the same hash queues
// behind it instead of racing the key lookup (S4).
func (it *Iterator) Next(ctx context.Context) (EntryHandle, error) {
	for it.pos > 0 {
		it.pos--
		hash := it.hashes[it.pos]
		meta, ok := it.b.idx.get(hash)
		if !ok {
			continue
		}
		if queued, err := it.b.waiters.waitTurn(ctx, hash, waitPostDoom); queued && err != nil {
			return nil, err
		}
		it.b.waiters.begin(hash, waitPostOpenByHash)
		v, err := it.b.poolDo(ctx, func() (interface{}, error) {
			return openActiveEntry(it.b.dir, hash, "", false, it.b.onActiveRelease)
		})
		var ae *activeEntry
		if err == nil {
			ae = v.(*activeEntry)
		}
		if err != nil {
			it.b.waiters.end(hash, waitPostOpenByHash)
			continue
		}
		if winner, installed := it.b.trackActive(ae); !installed {
			ae.discard()
			ae = winner
		}
		it.b.waiters.end(hash, waitPostOpenByHash)
		_ = meta
		return it.b.wrapHandle(ae), nil
	}
	return nil, ErrNotFound
}

// --- eviction (§4.2) ---

func (b *Backend) maybeEvict() {
	if b.cfg.cacheType.isAppCache() {
		// §9 / original simple_index.h: eviction is disabled entirely in
		// APP_CACHE mode, which never tracks the last-used times eviction
		// needs to pick a victim.
		return
	}
	if !b.idx.overHighWatermark() {
		return
	}
	b.runner.Submit(b.runEvictionSweep)
}

func (b *Backend) runEvictionSweep() {
	cands, gap, _ := b.idx.candidatesForEviction(time.Now())
	if gap == 0 {
		return
	}
	victims := evictor.Select(cands, evictor.Params{
		Now:               time.Now().Unix(),
		SizeWeighted:      !b.cfg.cacheType.isByteCode(),
		PrioritizeHighPri: b.cfg.prioritizedCaching,
		PrioritizationAge: int64(b.cfg.prioritizationPeriod / time.Second),
		PrioritizationDiv: b.cfg.prioritizationFactor,
		LowWatermarkGap:   gap,
	})

	var reclaimed uint64
	for _, hash := range victims {
		if m, ok := b.idx.get(hash); ok {
			reclaimed += m.GetEntrySize()
		}
		b.doomHash(context.Background(), hash)
	}
	b.metrics.ObserveEvictionSweep(len(victims), reclaimed)
}

// --- lifecycle ---

// Close flushes a final index writeback, drains in-flight worker pool
// jobs, and releases this directory's cleanup tracker.
func (b *Backend) Close() error {
	b.activeMu.Lock()
	if b.closed {
		b.activeMu.Unlock()
		return nil
	}
	b.closed = true
	b.activeMu.Unlock()

	b.idx.shutdown()
	b.pool.Wait()
	// The shutdown writeback runs on the cache runner like every other
	// writeback; runner.Close drains it before returning.
	b.idx.flushNow(WriteReasonShutdown, func(reason WriteReason) {
		b.runner.Submit(func() { b.flush(reason) })
	})
	b.runner.Close()
	release(b.canon, b.tracker)
	return nil
}
