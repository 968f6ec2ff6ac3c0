package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements refresh-token persistence over PostgreSQL.
//
// Each user's history lives in the user_refresh_tokens table, one row per
// hash, ordered by (created_at, token_hash). The cap is enforced inside
// the same transaction as every insert, and Rotate settles concurrent
// presentations of the same hash through the DELETE row count: exactly
// one transaction observes the row and wins.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	cap    int
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the session store (default "tavolo").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("session: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithMaxTokens overrides the per-user history cap (default 5).
func WithMaxTokens(n int) PostgresOption {
	return func(s *PostgresStore) error {
		if n < 1 {
			return fmt.Errorf("session: max tokens must be >= 1")
		}
		s.cap = n
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the
// caller; the store never closes it.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tavolo",
		cap:    DefaultConfig().MaxRefreshTokens,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

// Add inserts a hash and trims the user's history to the cap.
func (s *PostgresStore) Add(ctx context.Context, now time.Time, userID, tokenHash string) error {
	if userID == "" || tokenHash == "" {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.insert(ctx, tx, now, userID, tokenHash); err != nil {
			return err
		}
		return s.trim(ctx, tx, userID)
	})
}

// Remove deletes a single hash (idempotent).
func (s *PostgresStore) Remove(ctx context.Context, userID, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.ident("user_refresh_tokens")+`
		WHERE user_id = $1 AND token_hash = $2
	`, userID, tokenHash)
	return err
}

// Rotate atomically replaces oldHash with newHash. The DELETE's row count
// decides the winner: zero rows means the presented token was already
// rotated away or revoked, and the transaction commits without inserting.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, userID, oldHash, newHash string) (bool, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	honored := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM `+s.ident("user_refresh_tokens")+`
			WHERE user_id = $1 AND token_hash = $2
		`, userID, oldHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		honored = true
		if err := s.insert(ctx, tx, now, userID, newHash); err != nil {
			return err
		}
		return s.trim(ctx, tx, userID)
	})
	if err != nil {
		return false, err
	}
	return honored, nil
}

// Contains reports whether the hash is in the user's history.
func (s *PostgresStore) Contains(ctx context.Context, userID, tokenHash string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1
		FROM `+s.ident("user_refresh_tokens")+`
		WHERE user_id = $1 AND token_hash = $2
	`, userID, tokenHash).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAll revokes every refresh token the user holds.
func (s *PostgresStore) RemoveAll(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.ident("user_refresh_tokens")+`
		WHERE user_id = $1
	`, userID)
	return err
}

func (s *PostgresStore) insert(ctx context.Context, tx pgx.Tx, now time.Time, userID, tokenHash string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO `+s.ident("user_refresh_tokens")+` (user_id, token_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token_hash) DO NOTHING
	`, userID, tokenHash, now)
	return err
}

// trim evicts the oldest rows beyond the cap, inside the caller's tx.
func (s *PostgresStore) trim(ctx context.Context, tx pgx.Tx, userID string) error {
	table := s.ident("user_refresh_tokens")
	_, err := tx.Exec(ctx, `
		DELETE FROM `+table+`
		WHERE user_id = $1 AND token_hash NOT IN (
			SELECT token_hash
			FROM `+table+`
			WHERE user_id = $1
			ORDER BY created_at DESC, token_hash DESC
			LIMIT $2
		)
	`, userID, s.cap)
	return err
}

func (s *PostgresStore) ident(table string) string {
	return `"` + s.schema + `"."` + table + `"`
}
