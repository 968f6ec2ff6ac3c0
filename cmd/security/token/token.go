package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// HMACEnvKey names the environment variable holding the HMAC secret.
// #nosec G101 -- the variable name, not the secret itself.
const HMACEnvKey = "TAVOLO_TOKEN_HMAC_KEY"

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// HashRefreshTokenHex digests a refresh token for server-side storage.
// With TAVOLO_TOKEN_HMAC_KEY set the digest is HMAC-SHA256 under that
// key; without it, plain SHA-256 (dev mode). Either way the result is
// 64 hex characters, so the storage schema is the same in both modes.
func HashRefreshTokenHex(token string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, []byte(key))
}

// HashRefreshTokenHexRequireHMAC is the enforced-HMAC variant: a
// missing or undersized key is an error, never a SHA fallback.
func HashRefreshTokenHexRequireHMAC(token string, minBytes int) (string, error) {
	key, err := HMACKeyFromEnv(minBytes)
	if err != nil {
		return "", err
	}
	return HashHMACSHA256Hex(token, key), nil
}

// HMACKeyFromEnv reads and checks the HMAC key. minBytes > 0 enforces
// a minimum length after trimming.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "":
		return nil, ErrHMACKeyMissing
	case minBytes > 0 && len(raw) < minBytes:
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}

// HMACEnabled reports whether a key is configured at all; it does not
// check key length. Startup policy checks go through HMACKeyFromEnv.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
