package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured
// and by unit tests. A single mutex makes every operation atomic, which
// satisfies the per-token rotation linearizability contract trivially.
type MemoryStore struct {
	mu     sync.Mutex
	cap    int
	tokens map[string][]string // userID -> ordered hashes, oldest first
}

// NewMemoryStore constructs an in-memory session store with the given
// history cap (values < 1 fall back to the default of 5).
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = DefaultConfig().MaxRefreshTokens
	}
	return &MemoryStore{
		cap:    capacity,
		tokens: make(map[string][]string),
	}
}

// Add appends a hash and trims the history to the cap, oldest first.
func (s *MemoryStore) Add(ctx context.Context, _ time.Time, userID, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" || tokenHash == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[userID] = trimFront(append(s.tokens[userID], tokenHash), s.cap)
	return nil
}

// Remove deletes a single hash (idempotent).
func (s *MemoryStore) Remove(ctx context.Context, userID, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.tokens[userID]
	if !ok {
		return nil
	}
	s.tokens[userID] = withoutHash(list, tokenHash)
	return nil
}

// Rotate removes oldHash and appends newHash in one critical section.
func (s *MemoryStore) Rotate(ctx context.Context, _ time.Time, userID, oldHash, newHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.tokens[userID]
	if !ok {
		return false, nil
	}

	next := withoutHash(list, oldHash)
	if len(next) == len(list) {
		// Old hash absent: already rotated away or revoked.
		return false, nil
	}

	s.tokens[userID] = trimFront(append(next, newHash), s.cap)
	return true, nil
}

// Contains reports membership; unknown users report false, never an error.
func (s *MemoryStore) Contains(ctx context.Context, userID, tokenHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.tokens[userID] {
		if h == tokenHash {
			return true, nil
		}
	}
	return false, nil
}

// RemoveAll clears the user's history.
func (s *MemoryStore) RemoveAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, userID)
	return nil
}

// Count reports the current history length for a user (test helper).
func (s *MemoryStore) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens[userID])
}

func withoutHash(list []string, hash string) []string {
	out := make([]string, 0, len(list))
	for _, h := range list {
		if h != hash {
			out = append(out, h)
		}
	}
	return out
}

func trimFront(list []string, capacity int) []string {
	if len(list) <= capacity {
		return list
	}
	return append([]string(nil), list[len(list)-capacity:]...)
}
