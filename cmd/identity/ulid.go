package identity

import (
	"time"

	"tavolo/cmd/identity/ids"
)

// NewULID mints a user id; see ids.NewULID for ordering guarantees.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
