// Package session implements tavolo's authentication session lifecycle.
//
// It provides login/registration, access-token validation, refresh-token
// rotation, and logout revocation over a bounded per-user token history.
//
// Access tokens are signed JWTs (HS256) carrying subject/email/role and are
// short-lived and stateless. Refresh tokens are signed JWTs under a distinct
// secret; a refresh token is honored only while its hash is present in the
// owning user's server-side token list (capacity 5, oldest evicted first).
// Hashing lives in cmd/security/token (HMAC-SHA256 when TAVOLO_TOKEN_HMAC_KEY
// is set; otherwise SHA-256 for dev).
//
// Transport (HTTP cookies, JSON envelopes) is intentionally out of scope here.
package session
