package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API transport behavior and security defaults.
type Config struct {
	// Production hardens cookie flags (Secure on). Driven by TAVOLO_ENV.
	Production bool

	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieEnabled bool
	RefreshCookieName    string
	CookiePath           string
	CookieDomain         string
	CookieSameSite       http.SameSite

	LoginIPMax    int
	LoginIPWindow time.Duration

	LoginUserMax    int
	LoginUserWindow time.Duration
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Production:           strings.EqualFold(strings.TrimSpace(os.Getenv("TAVOLO_ENV")), "production"),
		TrustProxy:           envBool("TAVOLO_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:         envInt64("TAVOLO_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		RefreshCookieEnabled: envBool("TAVOLO_AUTH_REFRESH_COOKIE", true),
		RefreshCookieName:    envString("TAVOLO_AUTH_REFRESH_COOKIE_NAME", "refreshToken"),
		CookiePath:           envString("TAVOLO_AUTH_COOKIE_PATH", "/auth"),
		CookieDomain:         strings.TrimSpace(os.Getenv("TAVOLO_AUTH_COOKIE_DOMAIN")),
		CookieSameSite:       http.SameSiteStrictMode,
		LoginIPMax:           envInt("TAVOLO_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:        envDuration("TAVOLO_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserMax:         envInt("TAVOLO_AUTH_LOGIN_USER_MAX", 10),
		LoginUserWindow:      envDuration("TAVOLO_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),
	}

	switch strings.ToLower(strings.TrimSpace(os.Getenv("TAVOLO_AUTH_COOKIE_SAMESITE"))) {
	case "lax":
		cfg.CookieSameSite = http.SameSiteLaxMode
	case "none":
		cfg.CookieSameSite = http.SameSiteNoneMode
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

// CookieSecure reports whether refresh cookies carry the Secure flag.
func (c Config) CookieSecure() bool {
	return c.Production
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
