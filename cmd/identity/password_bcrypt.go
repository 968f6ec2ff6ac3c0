// Package identity password hashing (bcrypt).
//
// identity delegates to cmd/security/password as the single source of truth
// for cost factor and password policy so that configuration cannot drift
// between the registration path and any future credential tooling.
package identity

import (
	"errors"

	"tavolo/cmd/security/password"
)

// HashPassword returns a bcrypt hash of passwordPlain using the configured
// cost (default 12) and policy from the environment.
func HashPassword(passwordPlain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		// Treat invalid env as an operational error, not a weak fallback.
		return "", err
	}

	enc, err := cfg.Hash(passwordPlain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: "password too short"}
		case errors.Is(err, password.ErrPasswordTooLong):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: "password too long"}
		case errors.Is(err, password.ErrWeakPassword):
			return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: "weak password"}
		default:
			return "", err
		}
	}

	return enc, nil
}

// VerifyPassword checks a password against a bcrypt hash.
// A malformed hash verifies as false with an error; a mismatch is (false, nil).
func VerifyPassword(passwordPlain string, encodedHash string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}

	ok, err := cfg.Verify(encodedHash, passwordPlain)
	if err != nil {
		if errors.Is(err, password.ErrInvalidHash) {
			return false, errors.New("invalid bcrypt hash format")
		}
		return false, err
	}
	return ok, nil
}
