package cache

// metadata.go is C2: the packed 8-byte EntryMetadata record kept per hash
// in the in-memory index. Field widths and rounding rules are dictated by
// distilled spec §3 and must match the on-disk codec (codec.go) exactly.
//
// © 2025 simplecache authors. MIT License.

import (
	"time"

	"github.com/Voskan/simplecache/internal/unsafehelpers"
)

// MemoryDataBit is a caller-opaque flag stored in EntryMetadata.memoryData.
// Only two bits carry defined meaning; the rest are free for callers.
type MemoryDataBit uint8

const (
	UnusablePerCachingHeaders MemoryDataBit = 1 << 0
	HighPriority              MemoryDataBit = 1 << 1
)

const (
	maxSizeChunks  uint32 = 1<<24 - 1 // 24 bits
	chunkSizeBytes uint64 = 256
)

// EntryMetadata is the compact record the index keeps per hash. It is
// intentionally small: the index may hold hundreds of thousands of these.
type EntryMetadata struct {
	// timeOrPrefetch is either a Unix-seconds last-used timestamp (DiskCache
	// and friends) or a signed prefetch-size hint in bytes (AppCache). Zero
	// means "unset"; SetLastUsedTime/SetTrailerPrefetchSize both avoid storing a
	// real zero so nullity stays unambiguous.
	timeOrPrefetch int32
	sizeChunks     uint32 // 24 bits used; rounded up from bytes on every set
	memoryData     uint8
}

// GetLastUsedTime returns the zero time.Time if unset.
func (m EntryMetadata) GetLastUsedTime() time.Time {
	if m.timeOrPrefetch == 0 {
		return time.Time{}
	}
	return time.Unix(int64(m.timeOrPrefetch), 0).UTC()
}

// SetLastUsedTime preserves nullity and avoids accidental nullity: a
// timestamp that would round to the sentinel zero is stored as 1 instead.
func (m *EntryMetadata) SetLastUsedTime(t time.Time) {
	if t.IsZero() {
		m.timeOrPrefetch = 0
		return
	}
	secs := t.Unix()
	if secs < 0 {
		secs = 0
	}
	if secs > int64(^uint32(0)>>1) {
		secs = int64(^uint32(0) >> 1)
	}
	v := int32(secs)
	if v == 0 {
		v = 1
	}
	m.timeOrPrefetch = v
}

// GetTrailerPrefetchSize is only meaningful in AppCache mode.
func (m EntryMetadata) GetTrailerPrefetchSize() int32 {
	return m.timeOrPrefetch
}

// SetTrailerPrefetchSize stores a signed prefetch-size hint (AppCache mode
// only). Unlike SetLastUsedTime, negative values are meaningful here (the
// "no hint yet" sentinel is -1, not zero), so only an exact zero collides
// with the unset encoding and needs the +1 nudge.
func (m *EntryMetadata) SetTrailerPrefetchSize(size int32) {
	if size == 0 {
		size = 1
	}
	m.timeOrPrefetch = size
}

// resetTimeOrPrefetch clears the field back to "unset", used by the v8->v9
// upgrade path to drop v8 last-used timestamps from app-cache entries,
// where v9 reads the field as a prefetch hint.
func (m *EntryMetadata) resetTimeOrPrefetch() {
	m.timeOrPrefetch = 0
}

// GetEntrySize returns the rounded size in bytes (chunks * 256).
func (m EntryMetadata) GetEntrySize() uint64 {
	return uint64(m.sizeChunks) * chunkSizeBytes
}

// SetEntrySize rounds size up to the 256-byte chunk grid, per distilled
// spec §3 ("size_chunks is always the rounded value; round on set, not on
// read"). Rounding uses the teacher's AlignUp bit-twiddle
// (internal/unsafehelpers), which is exact for any power-of-two alignment;
// calling SetEntrySize(GetEntrySize()) is therefore a no-op, satisfying
// testable property #9.
func (m *EntryMetadata) SetEntrySize(sizeBytes uint64) {
	chunks := uint64(unsafehelpers.AlignUp(uintptr(sizeBytes), uintptr(chunkSizeBytes))) / chunkSizeBytes
	if chunks > uint64(maxSizeChunks) {
		chunks = uint64(maxSizeChunks)
	}
	m.sizeChunks = uint32(chunks)
}

func (m EntryMetadata) GetInMemoryData() uint8 {
	return m.memoryData
}

func (m *EntryMetadata) SetInMemoryData(b uint8) {
	m.memoryData = b
}

func (m EntryMetadata) HasBit(bit MemoryDataBit) bool {
	return m.memoryData&uint8(bit) != 0
}
