// Package identity derives stable local keys from remote article identifiers.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// articleNamespace is the fixed UUID namespace for derived article keys.
// Changing it would change every derived key, so it is frozen.
var articleNamespace = uuid.MustParse("9f2c1d4e-3b6a-4f8e-9c21-7d5a0e84b613")

// DerivedKey maps an article identifier to a deterministic 128-bit key
// formatted as a UUID. The same identifier always yields the same key, and
// distinct identifiers collide with negligible probability. The trailing path
// segment is folded into the hashed input so legacy identifiers that differ
// only in prefix still separate cleanly.
//
// The function is pure and safe for concurrent use.
func DerivedKey(identifier string) string {
	seed := identifier + "\n" + TrailingSegment(identifier)
	return uuid.NewSHA1(articleNamespace, []byte(seed)).String()
}

// TrailingSegment extracts the final path segment of an identifier, with any
// query string and trailing slashes removed. Returns the identifier unchanged
// when it has no path separator.
func TrailingSegment(identifier string) string {
	s := identifier
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
