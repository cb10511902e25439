// Package ids generates the identifiers and timestamps used throughout the
// store: monotonic, time-sortable 26-character strings, and deterministic
// identifiers derived from structured input.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a single monotonic source shared by the process. ULID's
// monotonic reader guarantees that two IDs minted within the same
// millisecond still sort in call order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New mints a fresh 26-character monotonic, time-sortable identifier.
func New() string {
	return NewAt(time.Now())
}

// NewAt mints an identifier carrying the given timestamp component, useful
// in tests that need deterministic ordering.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Deterministic derives a stable 26-character identifier from structured
// input: the same inputs always produce the same id, for callers that need
// idempotent keys rather than freshly minted ones. Nothing inside this
// module calls it; the dimension pin row uses the fixed key 1.
func Deterministic(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:26]
}

// Now returns the current time truncated to microsecond precision, the
// resolution the store persists via ISO-8601 formatting.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FormatRFC3339 renders t as the ISO-8601 / RFC3339 string stored on every
// row and emitted in every event.
func FormatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseRFC3339 is the inverse of FormatRFC3339.
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
