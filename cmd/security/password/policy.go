package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid bcrypt hash")
)

// trivialPasswords are rejected outright when weak-pattern checking is
// enabled. Kept deliberately tiny; this is not a strength estimator.
var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
}

// Validate applies the length policy and, when enabled, the minimal
// weak-pattern rejection. Lengths are counted in runes; the byte cap
// exists because bcrypt silently truncates beyond 72 bytes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength || len(password) > bcryptMaxPasswordBytes:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	runes := []rune(s)
	uniform := true
	digitsOnly := true
	for _, r := range runes {
		if r != runes[0] {
			uniform = false
		}
		if !unicode.IsDigit(r) {
			digitsOnly = false
		}
	}
	if uniform {
		return true
	}
	// PIN-like: short all-digit strings.
	return digitsOnly && len(runes) < 12
}
