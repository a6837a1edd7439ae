package cache

import (
	"testing"
	"time"
)

func TestEntryMetadataLastUsedTimeRoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Unix(1, 0).UTC(),
		time.Unix(1_700_000_000, 0).UTC(),
		time.Unix(0, 0).UTC(), // would round to the zero sentinel without the nudge
	}
	for _, want := range cases {
		var m EntryMetadata
		m.SetLastUsedTime(want)
		got := m.GetLastUsedTime()
		if got.IsZero() {
			t.Fatalf("SetLastUsedTime(%v) produced a zero time", want)
		}
		if want.Unix() > 0 && !got.Equal(want) {
			t.Fatalf("SetLastUsedTime(%v) round-tripped to %v", want, got)
		}
	}
}

func TestEntryMetadataLastUsedTimeZeroStaysZero(t *testing.T) {
	var m EntryMetadata
	m.SetLastUsedTime(time.Time{})
	if !m.GetLastUsedTime().IsZero() {
		t.Fatalf("expected zero time to stay zero, got %v", m.GetLastUsedTime())
	}
}

func TestEntryMetadataSetEntrySizeIdempotent(t *testing.T) {
	sizes := []uint64{0, 1, 255, 256, 257, 1 << 20, 1 << 30}
	for _, s := range sizes {
		var m EntryMetadata
		m.SetEntrySize(s)
		rounded := m.GetEntrySize()
		var m2 EntryMetadata
		m2.SetEntrySize(rounded)
		if m2.GetEntrySize() != rounded {
			t.Fatalf("SetEntrySize(%d) not idempotent: %d -> %d", s, rounded, m2.GetEntrySize())
		}
	}
}

func TestEntryMetadataSetEntrySizeRoundsUp(t *testing.T) {
	var m EntryMetadata
	m.SetEntrySize(1)
	if got := m.GetEntrySize(); got != 256 {
		t.Fatalf("expected 1 byte to round up to 256, got %d", got)
	}
}

func TestEntryMetadataSizeOverflowClampsToMax(t *testing.T) {
	var m EntryMetadata
	m.SetEntrySize(1 << 40)
	if m.GetEntrySize() != uint64(maxSizeChunks)*chunkSizeBytes {
		t.Fatalf("expected clamp to max chunk size, got %d", m.GetEntrySize())
	}
}

func TestEntryMetadataInMemoryDataBits(t *testing.T) {
	var m EntryMetadata
	m.SetInMemoryData(uint8(HighPriority))
	if !m.HasBit(HighPriority) {
		t.Fatal("expected HighPriority bit set")
	}
	if m.HasBit(UnusablePerCachingHeaders) {
		t.Fatal("did not expect UnusablePerCachingHeaders bit set")
	}
}
