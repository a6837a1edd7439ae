package cache

import "testing"

func TestHashKeyStableAcrossCalls(t *testing.T) {
	a := hashKey([]byte("hello world"))
	b := hashKey([]byte("hello world"))
	if a != b {
		t.Fatalf("hashKey not stable: %d != %d", a, b)
	}
}

func TestHashKeyStringMatchesHashKey(t *testing.T) {
	key := "some cache key"
	if hashKeyString(key) != hashKey([]byte(key)) {
		t.Fatal("hashKeyString and hashKey disagree for the same key")
	}
}

func TestStreamFileNameRoundTrip(t *testing.T) {
	hash := uint64(0x0123456789abcdef)
	for _, stream := range []int{0, 1, 2} {
		name := streamFileName(hash, stream)
		if len(name) != 18 {
			t.Fatalf("expected 18-byte filename, got %q (%d)", name, len(name))
		}
		gotHash, gotStream, ok := parseStreamFileName(name)
		if !ok {
			t.Fatalf("parseStreamFileName rejected %q", name)
		}
		if gotHash != hash || gotStream != stream {
			t.Fatalf("round-trip mismatch: got (%x, %d), want (%x, %d)", gotHash, gotStream, hash, stream)
		}
	}
}

func TestParseStreamFileNameRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"too_short",
		"0123456789abcdef_3",  // stream digit out of range
		"0123456789abcdeg_0",  // non-hex digit
		"0123456789abcdef-0",  // missing underscore
		"0123456789abcdef_00", // wrong length
	}
	for _, c := range cases {
		if _, _, ok := parseStreamFileName(c); ok {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}
