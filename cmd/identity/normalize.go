package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
// Emails are unique per user after normalization; lookups always go
// through the normalized form.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone trims whitespace only; formatting characters are kept
// as entered since phone is a display field, not a lookup key.
func NormalizePhone(s string) string {
	return strings.TrimSpace(s)
}
