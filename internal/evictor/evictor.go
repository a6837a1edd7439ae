// Package evictor implements the size/age eviction sweep used by the
// in-memory index to decide which entries to doom when the cache grows
// past its high watermark.
//
// The shape of this package — a pure function over a caller-supplied
// snapshot, no internal locking, a single accumulate-until-target loop —
// is carried over from internal/clockpro in the teacher repository this
// module started from: that package also ran fully inside the parent's
// critical section and never touched entry contents. The replacement
// *policy* is different: rather than a CLOCK hand cycling hot/cold/test
// states, this is a one-shot sort by a weighted age score, because that is
// what the index is specified to do (age, optionally multiplied by size,
// optionally discounted for prioritized high-priority entries still within
// their prioritization window).
//
// © 2025 simplecache authors. MIT License.
package evictor

import "sort"

// Candidate is the minimal view of an index entry the sweep needs. The
// index constructs a slice of these from its live entry map before calling
// Select; the evictor never touches the index's own storage.
type Candidate struct {
	Hash uint64

	// LastUsedSeconds is the entry's raw sort-time field: its last-used
	// time in Unix seconds. Select always derives the entry's age from it.
	LastUsedSeconds int64

	// SizeBytes is the entry's rounded on-disk size (EntryMetadata's
	// GetEntrySize()).
	SizeBytes uint64

	// HighPriority mirrors the entry's HIGH_PRIORITY in-memory-data bit.
	HighPriority bool
}

// Params bundles the tunables that affect scoring. SizeWeighted is false
// only for the two byte-code cache types (§4.2 "opt-out").
type Params struct {
	Now               int64
	SizeWeighted      bool
	PrioritizeHighPri bool
	PrioritizationAge int64 // seconds; entries younger than this may be discounted
	PrioritizationDiv uint64
	// LowWatermarkGap is how many bytes must be reclaimed:
	// cache_size_bytes - low_watermark.
	LowWatermarkGap uint64
}

// sizeOverheadBytes flattens the curve so that 1-byte and 2-byte entries
// sort together with the filesystem overhead they actually cost.
const sizeOverheadBytes = 512

// Select runs the full sweep described in distilled spec §4.2 steps 1-4 and
// returns the hashes to hand to the doom sink, in the order they were
// accumulated (callers must not depend on relative order beyond that).
func Select(candidates []Candidate, p Params) []uint64 {
	if len(candidates) == 0 || p.LowWatermarkGap == 0 {
		return nil
	}

	type scored struct {
		hash  uint64
		size  uint64
		score uint64
	}

	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		age := p.Now - c.LastUsedSeconds
		if age < 0 {
			age = 0
		}
		score := uint64(age)
		if p.SizeWeighted {
			score *= c.SizeBytes + sizeOverheadBytes
		}
		if p.PrioritizeHighPri && c.HighPriority && age < p.PrioritizationAge && p.PrioritizationDiv > 0 {
			score /= p.PrioritizationDiv
		}
		scoredList = append(scoredList, scored{hash: c.Hash, size: c.SizeBytes, score: score})
	}

	// Sort descending by score: entries most "worth evicting" first. Ties
	// are broken arbitrarily by sort.Slice's lack of stability guarantee —
	// callers must not rely on any particular order among equal scores.
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	var accumulated uint64
	out := make([]uint64, 0, len(scoredList))
	for _, s := range scoredList {
		if accumulated >= p.LowWatermarkGap {
			break
		}
		out = append(out, s.hash)
		accumulated += s.size
	}
	return out
}
