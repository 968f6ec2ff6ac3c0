package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateEmail is returned by Register when the email is already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials is returned by Login for unknown email, inactive
	// account, or wrong password. The three cases are deliberately
	// indistinguishable to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingToken is returned when a required token is absent.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned when signature/expiry verification fails or
	// a refresh token is no longer honored (rotated away or revoked).
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotActive is returned when a token verifies but its subject is
	// missing or deactivated.
	ErrUserNotActive = errors.New("user inactive or missing")

	// ErrForbidden is returned when an authenticated user lacks the required role.
	ErrForbidden = errors.New("insufficient role")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ValidationError carries per-field messages for malformed register/login input.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
