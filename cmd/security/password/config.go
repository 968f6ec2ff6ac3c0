package password

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptParams controls bcrypt hashing cost.
type BcryptParams struct {
	Cost int
}

// Policy controls password validation boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the effective password hashing + policy configuration.
type Config struct {
	Params BcryptParams
	Policy Policy
}

const (
	// bcrypt truncates input beyond 72 bytes; the policy cap must not exceed it.
	bcryptMaxPasswordBytes = 72

	defaultCost      = 12
	defaultMinLength = 6
	defaultMaxLength = bcryptMaxPasswordBytes
)

// DefaultConfig returns secure defaults: cost 12, length 6..72.
func DefaultConfig() Config {
	return Config{
		Params: BcryptParams{Cost: defaultCost},
		Policy: Policy{
			MinLength:      defaultMinLength,
			MaxLength:      defaultMaxLength,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads Config from environment variables on top of the defaults.
//
// Environment:
//   - TAVOLO_PASSWORD_BCRYPT_COST       (4..31)
//   - TAVOLO_PASSWORD_MIN_LENGTH
//   - TAVOLO_PASSWORD_MAX_LENGTH        (capped at 72)
//   - TAVOLO_PASSWORD_REJECT_VERY_WEAK  (bool)
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("TAVOLO_PASSWORD_BCRYPT_COST")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < bcrypt.MinCost || n > bcrypt.MaxCost {
			return Config{}, fmt.Errorf("password: invalid TAVOLO_PASSWORD_BCRYPT_COST %q", v)
		}
		cfg.Params.Cost = n
	}

	if v := strings.TrimSpace(os.Getenv("TAVOLO_PASSWORD_MIN_LENGTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("password: invalid TAVOLO_PASSWORD_MIN_LENGTH %q", v)
		}
		cfg.Policy.MinLength = n
	}

	if v := strings.TrimSpace(os.Getenv("TAVOLO_PASSWORD_MAX_LENGTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("password: invalid TAVOLO_PASSWORD_MAX_LENGTH %q", v)
		}
		if n > bcryptMaxPasswordBytes {
			n = bcryptMaxPasswordBytes
		}
		cfg.Policy.MaxLength = n
	}

	if v := strings.TrimSpace(os.Getenv("TAVOLO_PASSWORD_REJECT_VERY_WEAK")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("password: invalid TAVOLO_PASSWORD_REJECT_VERY_WEAK %q", v)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password: min length %d exceeds max length %d", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}

	return cfg, nil
}
