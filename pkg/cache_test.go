package cache

import (
	"context"
	"testing"
	"time"
)

func newTestBackend(t *testing.T, maxBytes int64) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := New(dir, maxBytes, DiskCache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	waitInit(t, b)
	t.Cleanup(func() { b.Close() })
	return b
}

// waitInit blocks until the backend's index has finished its async
// initialization, so tests never race New()'s background directory scan.
func waitInit(t *testing.T, b *Backend) {
	t.Helper()
	done := make(chan struct{})
	b.idx.executeWhenReady(func(error) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for backend initialization")
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	_, err := b.Open(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	h, err := b.Create(ctx, "foo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.WriteStream(1, 0, []byte("hello")); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	h.Close()

	h2, err := b.Open(ctx, "foo")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h2.Close()
	buf := make([]byte, h2.StreamSize(1))
	if _, err := h2.ReadStream(1, 0, buf); err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}
	if b.EntryCount() != 1 {
		t.Fatalf("EntryCount() = %d, want 1", b.EntryCount())
	}
}

// Concurrent Opens of the same key must share one activeEntry rather than
// opening the underlying files twice.
func TestConcurrentOpenSharesActiveEntry(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	h, err := b.Create(ctx, "shared")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	h2, err := b.Open(ctx, "shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h2.Close()

	impl1, ok1 := h.(*entryHandleImpl)
	impl2, ok2 := h2.(*entryHandleImpl)
	if !ok1 || !ok2 {
		t.Fatalf("unexpected handle types")
	}
	if impl1.ae != impl2.ae {
		t.Fatalf("expected both handles to share the same activeEntry")
	}
}

func TestOpenOrCreateFallsBackToCreate(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	h, err := b.OpenOrCreate(context.Background(), "new-key")
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	h.Close()
	if b.EntryCount() != 1 {
		t.Fatalf("expected entry to have been created")
	}
}

func TestDoomRemovesEntry(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	h, err := b.Create(ctx, "doomed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.Close()

	if err := b.Doom(ctx, "doomed"); err != nil {
		t.Fatalf("Doom: %v", err)
	}
	if _, err := b.Open(ctx, "doomed"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after doom, got %v", err)
	}
	if err := b.Doom(ctx, "doomed"); err != ErrNotFound {
		t.Fatalf("second doom should report ErrNotFound, got %v", err)
	}
}

// Dooming a key with a still-open handle must not unlink its files until
// the last handle releases.
func TestDoomWhileOpenDefersUnlink(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	h, err := b.Create(ctx, "live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.WriteStream(0, 0, []byte("x")); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}

	if err := b.Doom(ctx, "live"); err != nil {
		t.Fatalf("Doom: %v", err)
	}

	// The handle is still usable: doom only unlinks once refs hit zero.
	if _, err := h.ReadStream(0, 0, make([]byte, 1)); err != nil {
		t.Fatalf("ReadStream on doomed-but-open handle: %v", err)
	}
	h.Close()

	if _, err := b.Open(ctx, "live"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound once doomed entry fully released, got %v", err)
	}
}

// Whitebox collision test: two distinct keys forced onto the same hash via
// openOrCreateByHash must never share an ActiveEntry. Opening the second
// key while the first is still open must doom the first key's incumbent
// entry and wait for it to fully release (the two keys share on-disk
// stream file names, keyed only by hash) before installing a fresh entry
// for the new key — matching the "doom E1 first, then create E2" collision
// scenario.
func TestHashCollisionDoomsIncumbent(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()
	const collidingHash = uint64(0xC0FFEE)

	h1, err := b.openOrCreateByHash(ctx, collidingHash, "keyA", true, false)
	if err != nil {
		t.Fatalf("create keyA: %v", err)
	}
	if h1.Key() != "keyA" {
		t.Fatalf("h1.Key() = %q, want keyA", h1.Key())
	}
	// h1 stays open while keyB's create below dooms it; its files are
	// unlinked only once h1 is closed.
	if err := h1.WriteStream(0, 0, []byte("stale")); err != nil {
		t.Fatalf("write to h1 before collision: %v", err)
	}

	type result struct {
		h   EntryHandle
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		h, err := b.openOrCreateByHash(ctx, collidingHash, "keyB", true, false)
		resCh <- result{h, err}
	}()

	// Give the other goroutine a chance to reach the doom+wait point before
	// we release h1; this isn't required for correctness (the channel read
	// below blocks until it's actually done either way) but keeps the
	// ordering close to the described scenario.
	time.Sleep(20 * time.Millisecond)
	h1.Close()

	var res result
	select {
	case res = <-resCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for collision create to complete")
	}
	if res.err != nil {
		t.Fatalf("create keyB: %v", res.err)
	}
	h2 := res.h
	defer h2.Close()

	if h2.Key() != "keyB" {
		t.Fatalf("h2.Key() = %q, want keyB", h2.Key())
	}
	impl1 := h1.(*entryHandleImpl)
	impl2 := h2.(*entryHandleImpl)
	if impl1.ae == impl2.ae {
		t.Fatalf("expected keyA and keyB to get distinct activeEntry instances")
	}
}

// NewIterator/Next must walk every live entry exactly once and report
// ErrNotFound once exhausted.
func TestIteratorWalksAllEntries(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		h, err := b.Create(ctx, k)
		if err != nil {
			t.Fatalf("Create(%s): %v", k, err)
		}
		h.Close()
	}

	it := b.NewIterator()
	seen := make(map[uint64]bool)
	for {
		h, err := it.Next(ctx)
		if err == ErrNotFound {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[h.Hash()] = true
		h.Close()
	}
	if len(seen) != len(keys) {
		t.Fatalf("iterator saw %d entries, want %d", len(seen), len(keys))
	}
}

// SetMaxSize must shrink watermarks and trigger an eviction sweep on the
// runner goroutine when the new high watermark is already exceeded.
func TestSetMaxSizeTriggersEviction(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h, err := b.Create(ctx, string(rune('a'+i)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := h.WriteStream(1, 0, make([]byte, 4096)); err != nil {
			t.Fatalf("WriteStream: %v", err)
		}
		h.Close()
	}
	before := b.EntryCount()
	if before == 0 {
		t.Fatalf("expected entries to exist before shrinking max size")
	}

	if err := b.SetMaxSize(4096); err != nil {
		t.Fatalf("SetMaxSize: %v", err)
	}

	// Eviction runs asynchronously on the sequenced runner; submit a no-op
	// and wait for it to drain the runner's queue so the sweep has
	// completed by the time we assert.
	done := make(chan struct{})
	b.runner.Submit(func() { close(done) })
	<-done

	if b.EntryCount() >= before {
		t.Fatalf("expected eviction to reduce entry count below %d, got %d", before, b.EntryCount())
	}
}

func TestSetMaxSizeRejectsNonPositive(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	if err := b.SetMaxSize(0); err != errInvalidMaxSize {
		t.Fatalf("expected errInvalidMaxSize, got %v", err)
	}
}

// A second Backend over the same directory must be refused while the first
// is still open, and WaitForCacheDir must unblock once it's closed.
func TestSingleOwnerPerDirectory(t *testing.T) {
	dir := t.TempDir()
	b1, err := New(dir, 1<<20, DiskCache)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	waitInit(t, b1)

	if _, err := New(dir, 1<<20, DiskCache); err == nil {
		t.Fatalf("expected second New over the same directory to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- WaitForCacheDir(ctx, dir) }()

	b1.Close()

	if err := <-waitErrCh; err != nil {
		t.Fatalf("WaitForCacheDir: %v", err)
	}

	b2, err := New(dir, 1<<20, DiskCache)
	if err != nil {
		t.Fatalf("New after release: %v", err)
	}
	b2.Close()
}

// AppCache mode must not bump an entry's last-used time on a plain Open
// (§9, UseIfExists): the field instead carries a prefetch-size hint that
// Open leaves untouched.
func TestAppCacheSkipsAccessBump(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, 1<<20, AppCache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	waitInit(t, b)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()

	h, err := b.Create(ctx, "app-entry")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.Close()

	hash := hashKeyString("app-entry")
	before := b.trailerPrefetchSize(hash)
	if before != -1 {
		t.Fatalf("expected newly-created app-cache entry to carry the -1 sentinel, got %d", before)
	}

	h2, err := b.Open(ctx, "app-entry")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2.Close()

	after := b.trailerPrefetchSize(hash)
	if before != after {
		t.Fatalf("expected prefetch hint to survive Open untouched: before=%d after=%d", before, after)
	}
}

// AppCache mode disables eviction entirely (§9, simple_index.h): even once
// the cache is packed well past its high watermark, no sweep ever runs.
func TestAppCacheDisablesEviction(t *testing.T) {
	b := newTestBackendType(t, 4096, AppCache)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h, err := b.Create(ctx, string(rune('a'+i)))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := h.WriteStream(1, 0, make([]byte, 4096)); err != nil {
			t.Fatalf("WriteStream: %v", err)
		}
		h.Close()
	}
	before := b.EntryCount()
	if before != 5 {
		t.Fatalf("expected all 5 entries to be created, got %d", before)
	}

	// Drain the runner so any (wrongly) submitted eviction sweep would have
	// already run by the time we assert.
	done := make(chan struct{})
	b.runner.Submit(func() { close(done) })
	<-done

	if b.EntryCount() != before {
		t.Fatalf("expected AppCache mode to never evict, got %d entries, want %d", b.EntryCount(), before)
	}
}

func newTestBackendType(t *testing.T, maxBytes int64, cacheType CacheType) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := New(dir, maxBytes, cacheType)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	waitInit(t, b)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestDoomAllRemovesEverything(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		h, err := b.Create(ctx, k)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		h.Close()
	}
	if err := b.DoomAll(ctx); err != nil {
		t.Fatalf("DoomAll: %v", err)
	}
	if b.EntryCount() != 0 {
		t.Fatalf("expected 0 entries after DoomAll, got %d", b.EntryCount())
	}
}
