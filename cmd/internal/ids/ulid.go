// Package ids provides ID primitives (ULID) shared across easel services.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps log correlation cheap.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for call sites where ID generation failure is fatal
// anyway (crypto/rand exhaustion). It falls back to a zero-entropy ULID
// rather than panicking.
func MustULID(now time.Time) string {
	s, err := NewULID(now)
	if err != nil {
		return ulid.ULID{}.String()
	}
	return s
}
