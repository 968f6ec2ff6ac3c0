package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used when no database is configured
// and by unit tests. It enforces the same email-uniqueness contract as
// the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*memUser
	byEmail map[string]*memUser // keyed by normalized email
}

type memUser struct {
	user         User
	passwordHash string
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memUser),
		byEmail: make(map[string]*memUser),
	}
}

// CreateUser creates a new user with a hashed password.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if name == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	role := in.Role
	if role == "" {
		role = RoleCustomer
	}
	if !ValidRole(role) {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "unknown role"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Hash outside the lock; bcrypt is slow on purpose.
	pwHash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	emailNorm := NormalizeEmail(email)

	var phone *string
	if in.Phone != nil {
		if p := NormalizePhone(*in.Phone); p != "" {
			phone = &p
		}
	}

	u := User{
		ID:        id,
		Email:     email,
		EmailNorm: emailNorm,
		Name:      name,
		Phone:     phone,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[emailNorm]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	rec := &memUser{user: u, passwordHash: pwHash}
	s.byID[id] = rec
	s.byEmail[emailNorm] = rec

	return u, nil
}

// GetUserByID loads a user by ID (password hash excluded).
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return rec.user, nil
}

// GetUserAuthByEmail loads a user plus password hash by normalized email.
func (s *MemoryStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	const op = "identity.GetUserAuthByEmail"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return UserAuth{User: rec.user, PasswordHash: rec.passwordHash}, nil
}

// SetActive flips the active flag for a user. It exists for admin tooling
// and tests; deactivated users fail Refresh and Authenticate.
func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return NotFoundError{Op: "identity.SetActive", Resource: "user"}
	}
	rec.user.IsActive = active
	rec.user.UpdatedAt = time.Now().UTC()
	return nil
}
