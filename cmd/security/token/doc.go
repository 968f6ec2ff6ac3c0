// Package token provides token hashing primitives for tavolo.
//
// It is the single source of truth for refresh-token storage hashing:
// the session store never persists a refresh token in plaintext, only the
// 64-char hex digest produced here.
//
// Modes:
//   - Default dev mode: SHA-256(token) when no HMAC key is configured.
//   - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
//
// Environment:
//   - TAVOLO_TOKEN_HMAC_KEY: when set, enables HMAC mode.
//
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
