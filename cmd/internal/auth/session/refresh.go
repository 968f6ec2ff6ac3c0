package session

import (
	"crypto/rand"
	"encoding/base64"

	"tavolo/cmd/security/token"
)

// hashRefreshToken maps a refresh token to its server-stored form.
// Plaintext refresh tokens never reach a store.
func hashRefreshToken(s string) string {
	return token.HashRefreshTokenHex(s) // 64 hex chars
}

// newJTI returns a random token identifier for refresh-token claims.
func newJTI() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for token issuance anyway;
		// an empty jti merely loses uniqueness within one second.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
