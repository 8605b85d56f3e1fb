// Package msgid generates and checks the public message identifiers
// that tie a chat message to its on-chain escrow account.
package msgid

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"paygram/internal/apperr"
)

const (
	prefix  = "m"
	seedLen = 4
	randLen = 4
	minLen  = 4
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// New returns a fresh identifier: "m" + base36 unix-millis + 4 random
// base36 characters. The random suffix is too short to rule out
// collisions within the same millisecond; duplicates are found by the
// reconcile report, not prevented here.
func New() string {
	return At(time.Now())
}

// At builds an identifier for a fixed instant. Only the random suffix
// varies between calls with the same t.
func At(t time.Time) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(strconv.FormatInt(t.UnixMilli(), 36))
	for i := 0; i < randLen; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}

// Valid reports whether id is well-formed: leading "m", at least three
// characters after it.
func Valid(id string) bool {
	return len(id) >= minLen && strings.HasPrefix(id, prefix)
}

// Validate is the read-path check: malformed identifiers are an error,
// never silently replaced.
func Validate(id string) error {
	if !Valid(id) {
		return apperr.ErrMalformedID
	}
	return nil
}

// Normalize is the write-path policy: a malformed identifier is
// discarded and regenerated rather than persisted.
func Normalize(id string) string {
	if Valid(id) {
		return id
	}
	return New()
}

// Seed returns the derivation seed, the first four characters of a
// well-formed identifier (the "m" included).
func Seed(id string) (string, error) {
	if !Valid(id) {
		return "", apperr.ErrMalformedID
	}
	return id[:seedLen], nil
}
