// Package ids generates the opaque identifiers used for user records.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is shared so IDs minted within the same millisecond stay
// strictly increasing. ulid.Monotonic is not goroutine-safe on its own.
var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID mints a 26-character ULID. IDs sort lexicographically by
// creation time, so user listings ordered by id are ordered by signup.
// A zero now means "current time".
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
