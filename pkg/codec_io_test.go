package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWriteIndexAtomicThenLoad(t *testing.T) {
	dir := t.TempDir()
	entries := sampleEntries()

	if err := writeIndexAtomic(dir, WriteReasonShutdown, entries, 12345); err != nil {
		t.Fatalf("writeIndexAtomic: %v", err)
	}

	if _, err := os.Stat(tempIndexPath(dir)); !os.IsNotExist(err) {
		t.Fatalf("expected temp-index to be renamed away, stat err=%v", err)
	}
	if _, err := os.Stat(realIndexPath(dir)); err != nil {
		t.Fatalf("expected the-real-index to exist: %v", err)
	}

	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat cache dir: %v", err)
	}
	result := loadIndexFromDisk(dir, 1000, dirInfo.ModTime().Unix()-1)
	if !result.DidLoad {
		t.Fatal("expected loadIndexFromDisk to succeed against what writeIndexAtomic just wrote")
	}
	if len(result.Entries) != len(entries) {
		t.Fatalf("loaded %d entries, want %d", len(result.Entries), len(entries))
	}
}

func TestLoadIndexFromDiskRejectsStaleTrailer(t *testing.T) {
	dir := t.TempDir()
	entries := sampleEntries()
	if err := writeIndexAtomic(dir, WriteReasonIdle, entries, 1); err != nil {
		t.Fatalf("writeIndexAtomic: %v", err)
	}

	result := loadIndexFromDisk(dir, 1000, time.Now().Add(time.Hour).Unix())
	if result.DidLoad {
		t.Fatal("expected a trailer mtime older than the observed directory mtime to be rejected as stale")
	}
}

func TestScanCacheDirReconstructsFromStreamFiles(t *testing.T) {
	dir := t.TempDir()
	hash := uint64(0xdeadbeefcafef00d)
	for stream := 0; stream < streamCount; stream++ {
		path := filepath.Join(dir, streamFileName(hash, stream))
		if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
			t.Fatalf("seed stream file: %v", err)
		}
	}
	// A file that does not match the stream filename convention must be
	// ignored rather than crashing the scan.
	if err := os.WriteFile(filepath.Join(dir, "index"), []byte("not a stream file"), 0o644); err != nil {
		t.Fatalf("seed unrelated file: %v", err)
	}

	entries, err := scanCacheDir(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("scanCacheDir: %v", err)
	}
	m, ok := entries[hash]
	if !ok {
		t.Fatalf("expected hash %x to be recovered", hash)
	}
	if m.GetEntrySize() != 256*2 { // 300 bytes total rounds up to 2 chunks of 256
		t.Fatalf("expected recovered size to round up to chunk grid, got %d", m.GetEntrySize())
	}
}
