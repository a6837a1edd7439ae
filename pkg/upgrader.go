package cache

// upgrader.go is C5: the small sentinel "fake index" file that lives
// alongside the real index and lets initialize() decide, without reading
// the (potentially large) real index, whether the cache directory can be
// reused as-is, needs a version upgrade, or must be wiped.
//
// Grounded on distilled spec §4.4 and cross-checked against the retrieval
// pack's original_source/ material for the exact version-gate ordering
// (too-old / from-the-future / experiment-changed, checked in that order
// before anything else is attempted). The atomic rewrite during upgrade
// reuses codec.go's temp-file+rename shape with a distinct literal scratch
// name ("upgrade-index") so a crash mid-upgrade can never be mistaken for a
// crash mid-ordinary-writeback.
//
// © 2025 simplecache authors. MIT License.

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	fakeIndexMagic uint64 = 0xfcfb6d1ba7725c30

	minUpgradableVersion uint32 = 5

	// legacyV5Version is the one version whose real-index file lived
	// directly under the cache directory (<cache_dir>/the-real-index)
	// rather than under index-dir/ (§4.4 "v5 -> v6").
	legacyV5Version uint32 = 5

	fakeIndexSize = 8 + 4 + 4 + 4 // magic, version, reserved0, reserved1
)

func fakeIndexPath(cacheDir string) string     { return filepath.Join(cacheDir, "index") }
func upgradeIndexPath(cacheDir string) string  { return filepath.Join(indexDirPath(cacheDir), "upgrade-index") }

type fakeIndex struct {
	Version  uint32
	Reserved uint32
}

// readFakeIndex parses the sentinel file. exists=false with err=nil means
// the file does not exist yet (brand-new cache directory) or is not a
// valid sentinel (wrong length or magic). exists=true with a non-nil err
// means it failed a version/experiment gate; exists=false with a non-nil
// err (wrapping ErrPathError) means it could not be read.
func readFakeIndex(cacheDir string) (fi fakeIndex, exists bool, err error) {
	data, readErr := os.ReadFile(fakeIndexPath(cacheDir))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return fakeIndex{}, false, nil
		}
		return fakeIndex{}, false, fmt.Errorf("%w: %v", ErrPathError, readErr)
	}
	if len(data) != fakeIndexSize {
		// Truncated or garbage sentinel: treat like "never written" and let
		// the caller fall back to a directory scan.
		return fakeIndex{}, false, nil
	}
	magic := binary.LittleEndian.Uint64(data[0:8])
	if magic != fakeIndexMagic {
		return fakeIndex{}, false, nil
	}
	version := binary.LittleEndian.Uint32(data[8:12])
	reserved := binary.LittleEndian.Uint32(data[12:16])
	reserved1 := binary.LittleEndian.Uint32(data[16:20])

	if version < minUpgradableVersion {
		return fakeIndex{}, true, ErrVersionTooOld
	}
	if version > currentVersion {
		return fakeIndex{}, true, ErrVersionFromTheFuture
	}
	if reserved != 0 || reserved1 != 0 {
		return fakeIndex{}, true, ErrExperimentChange
	}
	return fakeIndex{Version: version, Reserved: reserved}, true, nil
}

// writeFakeIndex (re)writes the sentinel file in place. It is small enough
// (20 bytes) that a torn write is not a practical concern on any local
// filesystem the teacher's own atomic-write helper targets, so a direct
// write is used instead of the temp-file + rename that the real index goes
// through.
func writeFakeIndex(cacheDir string) error {
	buf := make([]byte, fakeIndexSize)
	binary.LittleEndian.PutUint64(buf[0:8], fakeIndexMagic)
	binary.LittleEndian.PutUint32(buf[8:12], currentVersion)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	return os.WriteFile(fakeIndexPath(cacheDir), buf, 0o644)
}

// upgradeIfNeeded brings an existing on-disk index from a readable older
// version up to currentVersion. Because the real-index entry record width
// is constant across versions 6-9 (only header width and the packed-size
// interpretation differ, both handled by deserialize/packEntry), "upgrade"
// is just: parse with the old version's rules, re-serialize with the
// current version's rules, install atomically, then stamp the fake index.
//
// v8 stored a last-used timestamp in this field even for app-cache
// entries, while v9 reads it there as a trailer-prefetch hint; an app-cache
// cache crossing that boundary has the field zeroed rather than carrying
// old timestamps forward as bogus prefetch sizes (§4.4 "v8 -> v9").
func upgradeIfNeeded(cacheDir string, logger *zap.Logger, entries map[uint64]EntryMetadata, cacheSizeBytes uint64, fromVersion uint32, cacheType CacheType) error {
	if fromVersion == currentVersion {
		return nil
	}
	if logger != nil {
		logger.Info("simplecache: upgrading index",
			zap.Uint32("from_version", fromVersion), zap.Uint32("to_version", currentVersion))
	}

	if cacheType.isAppCache() && fromVersion == 8 {
		for hash, m := range entries {
			m.resetTimeOrPrefetch()
			entries[hash] = m
		}
	}

	body := serializeBody(IndexHeader{
		Version:        currentVersion,
		EntryCount:     uint64(len(entries)),
		CacheSizeBytes: cacheSizeBytes,
	}, entries)

	fi, err := os.Stat(cacheDir)
	if err != nil {
		return fmt.Errorf("simplecache: stat cache dir during upgrade: %w", err)
	}
	final := serializeFinal(body, fi.ModTime().Unix())

	tmpPath := upgradeIndexPath(cacheDir)
	if err := os.MkdirAll(indexDirPath(cacheDir), 0o755); err != nil {
		return fmt.Errorf("simplecache: create index-dir during upgrade: %w", err)
	}
	if err := os.WriteFile(tmpPath, final, 0o644); err != nil {
		return fmt.Errorf("simplecache: write upgrade-index: %w", err)
	}
	if err := os.Rename(tmpPath, realIndexPath(cacheDir)); err != nil {
		return fmt.Errorf("simplecache: rename upgrade-index: %w", err)
	}
	return writeFakeIndex(cacheDir)
}

// migrateLegacyV5 implements the "v5 -> v6" upgrade step (§4.4): the v5
// layout stored the real index directly under <cache_dir>/the-real-index;
// v6 moved it under index-dir/. v5's wire format predates this module's
// versioned codec, so there is no in-place field translation to perform —
// the legacy file is deleted, the cache directory is left to rebuild via a
// directory scan (scanCacheDir, driven by the caller), and the fake index
// is stamped to the current version so the next boot does not repeat the
// migration. Idempotent: re-running after a crash mid-migration finds the
// legacy file already gone and simply rewrites the sentinel again.
func migrateLegacyV5(cacheDir string, logger *zap.Logger) error {
	legacyPath := filepath.Join(cacheDir, "the-real-index")
	if err := os.Remove(legacyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("simplecache: remove legacy the-real-index: %w", err)
	}
	if logger != nil {
		logger.Info("simplecache: migrated legacy v5 cache layout")
	}
	return writeFakeIndex(cacheDir)
}
