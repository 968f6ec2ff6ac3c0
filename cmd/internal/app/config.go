package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, TAVOLO_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins []string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TAVOLO_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TAVOLO_LOG_LEVEL", "info"),
		LogFormat: EnvString("TAVOLO_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TAVOLO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TAVOLO_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TAVOLO_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TAVOLO_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TAVOLO_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TAVOLO_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TAVOLO_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TAVOLO_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TAVOLO_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("TAVOLO_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins: EnvCSV("TAVOLO_CORS_ALLOWED_ORIGINS", ""),
	}
}
