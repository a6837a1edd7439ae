package cache

// hash.go is C1: deriving a stable 64-bit hash from a key, and mapping
// (hash, stream-file-index) to the on-disk filename.
//
// The teacher (pkg/shard.go) hashes keys with hash/maphash, seeded
// per-shard at process start — appropriate for an in-memory, single-process
// index, but the spec requires a hash "stable across runs and versions"
// (§4.1), since it also doubles as a filename component that must survive
// a process restart. maphash's seed is randomized per-process by design, so
// this module uses cespare/xxhash/v2 instead (already present in the
// dependency graph transitively through Badger) with no per-process seed.
//
// © 2025 simplecache authors. MIT License.

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Voskan/simplecache/internal/unsafehelpers"
)

// hashKey returns the stable 64-bit hash of an arbitrary byte-string key.
// The returned value doubles as the coordinator's bookkeeping key and as the
// hex prefix of every stream filename belonging to the entry.
func hashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// hashKeyString is the string-keyed equivalent, used once a key has already
// been interned as a string (e.g. ActiveEntry.key). It avoids an extra copy
// by reinterpreting the string's bytes for the duration of the hash call
// only; xxhash.Sum64 does not retain its argument.
func hashKeyString(key string) uint64 {
	return xxhash.Sum64(unsafehelpers.StringToBytes(key))
}

// streamFileName formats the 18-byte filename for (hash, streamIndex), per
// distilled spec §4.1 / §6: 16 lowercase hex digits, an underscore, and a
// single digit in [0,2].
func streamFileName(hash uint64, streamIndex int) string {
	buf := make([]byte, 0, 18)
	buf = appendHex16(buf, hash)
	buf = append(buf, '_')
	buf = strconv.AppendInt(buf, int64(streamIndex), 10)
	return string(buf)
}

const hexDigits = "0123456789abcdef"

func appendHex16(buf []byte, h uint64) []byte {
	var tmp [16]byte
	for i := 15; i >= 0; i-- {
		tmp[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return append(buf, tmp[:]...)
}

// parseStreamFileName parses an 18-byte directory entry name of the exact
// shape "hhhhhhhhhhhhhhhh_s". Anything else — wrong length, non-hex prefix,
// stream digit out of [0,2] — is rejected so directory scans can silently
// skip files that do not belong to this cache (§4.1).
func parseStreamFileName(name string) (hash uint64, streamIndex int, ok bool) {
	if len(name) != 18 || name[16] != '_' {
		return 0, 0, false
	}
	d := name[17]
	if d < '0' || d > '2' {
		return 0, 0, false
	}
	var h uint64
	for i := 0; i < 16; i++ {
		c := name[i]
		var v uint64
		switch {
		case c >= '0' && c <= '9':
			v = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v = uint64(c-'a') + 10
		default:
			return 0, 0, false
		}
		h = h<<4 | v
	}
	return h, int(d - '0'), true
}
