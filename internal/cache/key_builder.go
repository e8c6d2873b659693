package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key identifies one rendered result: which input format, which equation
// text (by digest), which caller reference and which output format.
type Key struct {
	Format string
	Digest string
	RefID  string
	Output string
}

// String converts the structured key into the string used in Redis/map.
func (k Key) String() string {
	// <FORMAT>:<SHA256_HEX>:<REFID>:<OUTPUT>
	return fmt.Sprintf("%s:%s:%s:%s", k.Format, k.Digest, k.RefID, k.Output)
}

// BuildKey derives the cache key for a request.
//
// The equation is hashed exactly as received (before any normalization), so
// the key is a pure function of the request parameters and is stable across
// process restarts.
func BuildKey(format, equation, refID, output string) Key {
	sum := sha256.Sum256([]byte(equation))
	return Key{
		Format: format,
		Digest: hex.EncodeToString(sum[:]),
		RefID:  refID,
		Output: output,
	}
}

// ParseKey splits a key produced by Key.String. RefID may itself contain
// colons, so format and digest are taken from the front and output from the back.
func ParseKey(s string) (Key, bool) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first < 0 || last <= first {
		return Key{}, false
	}
	format, rest := s[:first], s[first+1:last]
	digest, refID, ok := strings.Cut(rest, ":")
	if !ok || len(digest) != sha256.Size*2 {
		return Key{}, false
	}
	return Key{
		Format: format,
		Digest: digest,
		RefID:  refID,
		Output: s[last+1:],
	}, true
}
