package evictor

import "testing"

func contains(hashes []uint64, h uint64) bool {
	for _, v := range hashes {
		if v == h {
			return true
		}
	}
	return false
}

// Mirrors the size-weighted sweep scenario: three entries of unequal size
// and age, a low-watermark gap smaller than the total, size weighting on.
// The largest, oldest entry must be picked first and the sweep must stop
// as soon as the gap is satisfied.
func TestSelectSizeWeighted(t *testing.T) {
	cands := []Candidate{
		{Hash: 11, LastUsedSeconds: 0, SizeBytes: 4096},  // oldest, large
		{Hash: 22, LastUsedSeconds: 90, SizeBytes: 128},  // newest, small
		{Hash: 3, LastUsedSeconds: 30, SizeBytes: 1024},  // middle
	}
	got := Select(cands, Params{
		Now:          100,
		SizeWeighted: true,
		LowWatermarkGap: 4096,
	})
	if len(got) != 1 || got[0] != 11 {
		t.Fatalf("expected only hash 11 evicted, got %v", got)
	}
	if contains(got, 3) || contains(got, 22) {
		t.Fatalf("survivors incorrectly evicted: %v", got)
	}
}

// A byte-code cache disables size weighting, so eviction order degrades to
// pure age regardless of size: the oldest entries go first even if they are
// small, and a large-but-recent entry survives.
func TestSelectNotSizeWeighted(t *testing.T) {
	cands := []Candidate{
		{Hash: 11, LastUsedSeconds: 0, SizeBytes: 128},   // oldest
		{Hash: 22, LastUsedSeconds: 10, SizeBytes: 64},   // second oldest
		{Hash: 3, LastUsedSeconds: 95, SizeBytes: 8192},  // newest, largest
	}
	got := Select(cands, Params{
		Now:             100,
		SizeWeighted:    false,
		LowWatermarkGap: 128 + 64,
	})
	if !contains(got, 11) || !contains(got, 22) {
		t.Fatalf("expected both oldest entries evicted, got %v", got)
	}
	if contains(got, 3) {
		t.Fatalf("newest entry should have survived, got %v", got)
	}
}

// High-priority entries within the prioritization window score lower (get
// divided down) so they are passed over in favor of an equally-old
// ordinary entry.
func TestSelectPrioritizeHighPriority(t *testing.T) {
	cands := []Candidate{
		{Hash: 1, LastUsedSeconds: 0, SizeBytes: 100, HighPriority: true},
		{Hash: 2, LastUsedSeconds: 0, SizeBytes: 100, HighPriority: false},
	}
	got := Select(cands, Params{
		Now:               100,
		SizeWeighted:       true,
		PrioritizeHighPri:  true,
		PrioritizationAge:  1000,
		PrioritizationDiv:  1000,
		LowWatermarkGap:    1,
	})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected ordinary entry evicted first, got %v", got)
	}
}

func TestSelectEmptyInputs(t *testing.T) {
	if got := Select(nil, Params{LowWatermarkGap: 10}); got != nil {
		t.Fatalf("expected nil for no candidates, got %v", got)
	}
	cands := []Candidate{{Hash: 1, SizeBytes: 10}}
	if got := Select(cands, Params{LowWatermarkGap: 0}); got != nil {
		t.Fatalf("expected nil for zero gap, got %v", got)
	}
}

func TestSelectStopsOnceGapSatisfied(t *testing.T) {
	cands := []Candidate{
		{Hash: 1, LastUsedSeconds: 0, SizeBytes: 1000},
		{Hash: 2, LastUsedSeconds: 1, SizeBytes: 1000},
		{Hash: 3, LastUsedSeconds: 2, SizeBytes: 1000},
	}
	got := Select(cands, Params{Now: 100, SizeWeighted: true, LowWatermarkGap: 1500})
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 entries evicted to clear the gap, got %v", got)
	}
}
