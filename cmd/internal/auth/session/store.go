package session

import (
	"context"
	"time"
)

// Store abstracts persistence of the per-user refresh-token history.
//
// All operations take token *hashes* (see cmd/security/token), never
// plaintext tokens. Implementations must ensure:
//
//   - Add enforces the history cap atomically: appending to a full list
//     evicts the oldest entry in the same operation.
//   - Rotate is linearizable per token: of two concurrent Rotate calls
//     presenting the same old hash, exactly one observes honored=true.
//   - Mutations are append/remove semantics, never a whole-list overwrite
//     from a stale read, so concurrent rotations of *different* tokens for
//     the same user both survive.
//   - Operations against an unknown user are no-ops (or return false),
//     never errors.
type Store interface {
	// Add appends a refresh-token hash to the user's history, evicting the
	// oldest entries beyond the cap.
	Add(ctx context.Context, now time.Time, userID, tokenHash string) error

	// Remove deletes a single hash. Removing an absent hash is not an error.
	Remove(ctx context.Context, userID, tokenHash string) error

	// Rotate atomically replaces oldHash with newHash, enforcing the cap.
	// It reports whether oldHash was still honored; when false, nothing is
	// written and the presented token must be rejected as a replay.
	Rotate(ctx context.Context, now time.Time, userID, oldHash, newHash string) (honored bool, err error)

	// Contains reports whether the hash is currently honored for the user.
	Contains(ctx context.Context, userID, tokenHash string) (bool, error)

	// RemoveAll revokes every refresh token for the user (logout everywhere).
	RemoveAll(ctx context.Context, userID string) error
}
