package identity

import (
	"context"
	"time"
)

// Role is the coarse authorization level attached to a user.
type Role string

const (
	// RoleCustomer is the default role for self-registered users.
	RoleCustomer Role = "customer"
	// RoleAdmin gates administrative operations (dish management etc.).
	RoleAdmin Role = "admin"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	return r == RoleCustomer || r == RoleAdmin
}

// User is tavolo's canonical security principal.
// The password hash never travels on this struct; see UserAuth.
type User struct {
	ID        string
	Email     string
	EmailNorm string

	Name  string
	Phone *string

	Role     Role
	IsActive bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth couples a user record with its password hash for login checks.
// It must never be serialized to a client.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a user registration request.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	Role     Role
	Now      time.Time
}

// Store is the identity persistence boundary consumed by the session layer.
//
// Contract:
//   - Email uniqueness is enforced on the normalized form; violations surface
//     as ConflictError{Field: "email"}.
//   - GetUserAuthByEmail matches on the normalized email and includes inactive
//     users: login must distinguish "inactive" from "missing" internally
//     while reporting both identically to clients.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
}
