package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, the refresh-history cap,
// and the two signing secrets. Access and refresh secrets are independent
// by design: compromise of the short-lived access secret must not allow
// minting new sessions.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token kinds.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of refresh tokens.
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// MaxRefreshTokens caps the per-user refresh-token history.
	// When exceeded, the oldest token is evicted (and thereby revoked).
	MaxRefreshTokens int

	// AccessSecret signs access tokens (HS256).
	AccessSecret []byte

	// RefreshSecret signs refresh tokens (HS256). Must differ from AccessSecret.
	RefreshSecret []byte
}

// DefaultConfig returns secure defaults suitable for development.
// Secrets are not defaulted; they must come from the environment.
func DefaultConfig() Config {
	return Config{
		Issuer:           "tavolo",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		ClockSkew:        30 * time.Second,
		MaxRefreshTokens: 5,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (startup must fail loudly when absent):
//   - TAVOLO_JWT_ACCESS_SECRET
//   - TAVOLO_JWT_REFRESH_SECRET (must differ from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - TAVOLO_AUTH_ISSUER
//   - TAVOLO_AUTH_ACCESS_TTL
//   - TAVOLO_AUTH_REFRESH_TTL
//   - TAVOLO_AUTH_CLOCK_SKEW
//   - TAVOLO_AUTH_MAX_REFRESH_TOKENS (1..20)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("TAVOLO_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("TAVOLO_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("TAVOLO_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("TAVOLO_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("TAVOLO_AUTH_MAX_REFRESH_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 20 {
			return Config{}, ErrConfig
		}
		cfg.MaxRefreshTokens = n
	}

	cfg.AccessSecret = []byte(os.Getenv("TAVOLO_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("TAVOLO_JWT_REFRESH_SECRET"))

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if len(c.AccessSecret) == 0 || len(c.RefreshSecret) == 0 {
		return ErrConfig
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.MaxRefreshTokens < 1 {
		return ErrConfig
	}
	// A refresh token outliving its purpose is fine; the reverse is a misconfig.
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return ErrConfig
	}
	return nil
}
