package cache

// codec.go is C3: the index file's wire format (CRC-checked, versioned,
// length-prefixed pickle), its atomic writer, and the directory-scan
// salvage path used when the pickle is missing or untrustworthy.
//
// The wire format is bit-exact per SPEC_FULL.md §6 and distilled spec
// §4.3; encoding/binary + hash/crc32 are used directly rather than a
// generic serialization library because the layout is hand-specified down
// to the byte (see DESIGN.md "Standard-library justifications"). The
// atomic-write and directory-scan shapes are grounded on the diskcache
// patterns in the examples pack (rsc-cloud's diskcache temp-file+rename,
// buchgr/bazel-remote's per-entry-file directory layout and its use of
// djherbis/atime for a portable last-accessed time).
//
// © 2025 simplecache authors. MIT License.

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/djherbis/atime"
	"go.uber.org/zap"
)

const (
	realIndexMagic uint64 = 0x656e74657220796f

	currentVersion     uint32 = 9
	minReadableVersion uint32 = 6

	headerSizeNoReason = 8 + 4 + 8 + 8      // magic, version, entryCount, cacheSize
	headerSizeWithReason = headerSizeNoReason + 4
	entryRecordSize       = 8 + 8 + 8 // hash, timeOrPrefetch, packed
	trailerSize            = 8
	crcPrefixSize           = 4
)

// WriteReason records why an index writeback happened (§4.2 writeback
// state). Present in the header for version >= 7; version-6 headers have
// no such field, and it decodes as zero (WriteReasonIdle) for them.
type WriteReason uint32

const (
	WriteReasonIdle WriteReason = iota
	WriteReasonShutdown
	WriteReasonStartupMerge
	WriteReasonAppBackgrounded
)

// IndexHeader is the decoded form of the fixed-size header preceding the
// entry records.
type IndexHeader struct {
	Version         uint32
	EntryCount      uint64
	CacheSizeBytes  uint64
	LastWriteReason WriteReason
}

// LoadResult is what the codec (or the directory scan fallback) hands back
// to the index on initialize().
type LoadResult struct {
	DidLoad       bool
	InitMethod    InitMethod
	Entries       map[uint64]EntryMetadata
	CacheDirMTime int64
	FlushRequired bool
}

type InitMethod uint8

const (
	InitLoaded InitMethod = iota
	InitRecovered
	InitNewCache
)

func packEntry(version uint32, m EntryMetadata) (timeOrPrefetch int64, packed uint64) {
	timeOrPrefetch = int64(m.timeOrPrefetch)
	if version >= 8 {
		packed = uint64(m.sizeChunks)<<8 | uint64(m.memoryData)
	} else {
		packed = uint64(m.sizeChunks)
	}
	return
}

func unpackEntry(version uint32, timeOrPrefetch int64, packed uint64) EntryMetadata {
	m := EntryMetadata{timeOrPrefetch: int32(timeOrPrefetch)}
	if version >= 8 {
		m.sizeChunks = uint32(packed >> 8)
		m.memoryData = uint8(packed)
	} else {
		m.sizeChunks = uint32(packed)
	}
	return m
}

// serializeBody writes header + entries (everything except the crc prefix
// and the trailer) in header-then-entries order, per §4.3.
func serializeBody(header IndexHeader, entries map[uint64]EntryMetadata) []byte {
	size := headerSizeWithReason + len(entries)*entryRecordSize
	buf := make([]byte, 0, size)

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], realIndexMagic)
	buf = append(buf, tmp[:8]...)

	binary.LittleEndian.PutUint32(tmp[:4], header.Version)
	buf = append(buf, tmp[:4]...)

	binary.LittleEndian.PutUint64(tmp[:], header.EntryCount)
	buf = append(buf, tmp[:8]...)

	binary.LittleEndian.PutUint64(tmp[:], header.CacheSizeBytes)
	buf = append(buf, tmp[:8]...)

	if header.Version >= 7 {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(header.LastWriteReason))
		buf = append(buf, tmp[:4]...)
	}

	for hash, meta := range entries {
		binary.LittleEndian.PutUint64(tmp[:], hash)
		buf = append(buf, tmp[:8]...)

		t, packed := packEntry(header.Version, meta)
		binary.LittleEndian.PutUint64(tmp[:], uint64(t))
		buf = append(buf, tmp[:8]...)

		binary.LittleEndian.PutUint64(tmp[:], packed)
		buf = append(buf, tmp[:8]...)
	}
	return buf
}

// serializeFinal appends the cache_dir_mtime trailer to body (captured
// after the worker has already stat'd the cache directory, so the heavy
// work of computing the CRC stays on the same worker that performs the
// write — see distilled spec §4.3) and prefixes the whole thing with its
// CRC32.
func serializeFinal(body []byte, cacheDirMTime int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(cacheDirMTime))
	payload := append(body, tmp[:8]...)

	sum := crc32.ChecksumIEEE(payload)
	out := make([]byte, crcPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(out[:4], sum)
	copy(out[4:], payload)
	return out
}

// deserialize validates the CRC, parses the header and every entry record,
// and returns a plain map — or did_load=false on any structural problem, in
// which case the caller deletes the file and falls back to recovery.
func deserialize(data []byte, maxEntries int) (header IndexHeader, entries map[uint64]EntryMetadata, cacheDirMTime int64, ok bool) {
	maxBytes := crcPrefixSize + headerSizeWithReason + trailerSize + maxEntries*entryRecordSize
	if len(data) < crcPrefixSize+headerSizeNoReason || len(data) > maxBytes {
		return IndexHeader{}, nil, 0, false
	}

	storedCRC := binary.LittleEndian.Uint32(data[:4])
	payload := data[4:]
	if crc32.ChecksumIEEE(payload) != storedCRC {
		return IndexHeader{}, nil, 0, false
	}

	off := 4
	magic := binary.LittleEndian.Uint64(data[off:])
	off += 8
	if magic != realIndexMagic {
		return IndexHeader{}, nil, 0, false
	}
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version < minReadableVersion || version > currentVersion {
		return IndexHeader{}, nil, 0, false
	}
	entryCount := binary.LittleEndian.Uint64(data[off:])
	off += 8
	cacheSize := binary.LittleEndian.Uint64(data[off:])
	off += 8

	var writeReason WriteReason
	if version >= 7 {
		if len(data) < off+4 {
			return IndexHeader{}, nil, 0, false
		}
		writeReason = WriteReason(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}

	need := off + int(entryCount)*entryRecordSize + trailerSize
	if entryCount > uint64(maxEntries) || need < 0 || len(data) < need {
		return IndexHeader{}, nil, 0, false
	}

	result := make(map[uint64]EntryMetadata, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		hash := binary.LittleEndian.Uint64(data[off:])
		off += 8
		t := int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		packed := binary.LittleEndian.Uint64(data[off:])
		off += 8
		result[hash] = unpackEntry(version, t, packed)
	}

	mtime := int64(binary.LittleEndian.Uint64(data[off:]))
	off += trailerSize
	if off != len(data) {
		return IndexHeader{}, nil, 0, false
	}

	return IndexHeader{
		Version:         version,
		EntryCount:      entryCount,
		CacheSizeBytes:  cacheSize,
		LastWriteReason: writeReason,
	}, result, mtime, true
}

// --- atomic write (§4.3 "Atomic write") ---

func indexDirPath(cacheDir string) string   { return filepath.Join(cacheDir, "index-dir") }
func realIndexPath(cacheDir string) string  { return filepath.Join(indexDirPath(cacheDir), "the-real-index") }
func tempIndexPath(cacheDir string) string  { return filepath.Join(indexDirPath(cacheDir), "temp-index") }

// writeIndexAtomic serializes entries and installs them as the-real-index
// via temp-file + rename. It must run on the cache runner (blocking I/O
// allowed there). On a GetMTime failure it aborts and leaves the existing
// the-real-index file untouched, per the Open Question resolution recorded
// in DESIGN.md — it never substitutes time.Now().
func writeIndexAtomic(cacheDir string, reason WriteReason, entries map[uint64]EntryMetadata, cacheSizeBytes uint64) error {
	if err := os.MkdirAll(indexDirPath(cacheDir), 0o755); err != nil {
		return fmt.Errorf("simplecache: create index-dir: %w", err)
	}

	fi, err := os.Stat(cacheDir)
	if err != nil {
		return fmt.Errorf("simplecache: stat cache dir for mtime: %w", err)
	}

	body := serializeBody(IndexHeader{
		Version:         currentVersion,
		EntryCount:      uint64(len(entries)),
		CacheSizeBytes:  cacheSizeBytes,
		LastWriteReason: reason,
	}, entries)
	final := serializeFinal(body, fi.ModTime().Unix())

	tmpPath := tempIndexPath(cacheDir)
	// create-always + share-delete where the platform supports it: plain
	// O_TRUNC|O_CREATE gives the closest portable equivalent in Go, since
	// file sharing modes beyond POSIX's unrestricted-by-default semantics
	// are not exposed by os.OpenFile on any platform this module targets.
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("simplecache: open temp-index: %w", err)
	}
	n, err := f.Write(final)
	closeErr := f.Close()
	if err != nil || n != len(final) {
		os.Remove(tmpPath)
		if err != nil {
			return fmt.Errorf("simplecache: write temp-index: %w", err)
		}
		return fmt.Errorf("simplecache: short write to temp-index (%d of %d bytes)", n, len(final))
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("simplecache: close temp-index: %w", closeErr)
	}

	if err := os.Rename(tmpPath, realIndexPath(cacheDir)); err != nil {
		// Expected during teardown races; not fatal.
		return fmt.Errorf("simplecache: rename temp-index: %w", err)
	}
	return nil
}

// loadIndexFromDisk reads the-real-index, verifies freshness against the
// observed cache directory mtime, and returns did_load=false whenever the
// file is missing, corrupt, or stale so the caller falls back to recovery.
func loadIndexFromDisk(cacheDir string, maxEntries int, observedDirMTime int64) LoadResult {
	data, err := os.ReadFile(realIndexPath(cacheDir))
	if err != nil {
		return LoadResult{DidLoad: false}
	}
	header, entries, trailerMTime, ok := deserialize(data, maxEntries)
	if !ok {
		return LoadResult{DidLoad: false}
	}
	if trailerMTime < observedDirMTime {
		// Stale: something touched the directory after the index was
		// written. Discard and recover.
		return LoadResult{DidLoad: false}
	}
	_ = header
	return LoadResult{
		DidLoad:       true,
		InitMethod:    InitLoaded,
		Entries:       entries,
		CacheDirMTime: trailerMTime,
	}
}

// scanCacheDir walks the cache directory non-recursively, reconstructing an
// entry set from stream filenames and stat results (§4.3 "Directory scan").
func scanCacheDir(cacheDir string, logger *zap.Logger) (map[uint64]EntryMetadata, error) {
	dirEntries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("simplecache: scan cache dir: %w", err)
	}

	result := make(map[uint64]EntryMetadata)
	rawSizes := make(map[uint64]uint64)
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		hash, _, ok := parseStreamFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(cacheDir, de.Name())

		var lastUsed time.Time
		if at, err := atime.Stat(path); err == nil && !at.IsZero() {
			lastUsed = at
		} else {
			lastUsed = info.ModTime()
		}

		existing, present := result[hash]
		newSize := rawSizes[hash] + uint64(info.Size())
		rawSizes[hash] = newSize
		meta := existing
		if newSize > uint64(^uint32(0)) {
			const placeholderSize = 32768
			if logger != nil {
				logger.Warn("simplecache: entry size overflowed during recovery, using placeholder",
					zap.Uint64("hash", hash), zap.Uint64("summed_size", newSize))
			}
			meta.SetEntrySize(placeholderSize)
		} else {
			meta.SetEntrySize(newSize)
		}
		if !present || lastUsed.After(meta.GetLastUsedTime()) {
			meta.SetLastUsedTime(lastUsed)
		}
		result[hash] = meta
	}
	return result, nil
}
