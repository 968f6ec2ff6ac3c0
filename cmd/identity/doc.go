// Package identity is tavolo's credential store boundary.
//
// It owns the canonical user record (email, bcrypt password hash, display
// name, role, active flag) and the lookups the session layer depends on:
// lookup-by-email with password-hash access, lookup-by-id without it.
//
// This package is intentionally dependency-light and security-first.
package identity
