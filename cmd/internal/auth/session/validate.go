package session

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRe = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)
	phoneRe = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

const (
	minPasswordLength = 6
	minNameLength     = 2
	maxNameLength     = 50
)

// RegisterInput is the raw, untrusted registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// LoginInput is the raw, untrusted login request.
type LoginInput struct {
	Email    string
	Password string
}

// validateRegister collects every field failure instead of stopping at
// the first, so the API can return them all at once.
func validateRegister(in RegisterInput) error {
	fields := map[string]string{}

	email := strings.TrimSpace(in.Email)
	switch {
	case email == "":
		fields["email"] = "email is required"
	case !emailRe.MatchString(email):
		fields["email"] = "please provide a valid email address"
	}

	switch {
	case in.Password == "":
		fields["password"] = "password is required"
	case utf8.RuneCountInString(in.Password) < minPasswordLength:
		fields["password"] = "password must be at least 6 characters"
	}

	name := strings.TrimSpace(in.Name)
	switch n := utf8.RuneCountInString(name); {
	case name == "":
		fields["name"] = "name is required"
	case n < minNameLength:
		fields["name"] = "name must be at least 2 characters"
	case n > maxNameLength:
		fields["name"] = "name must be at most 50 characters"
	}

	if phone := strings.TrimSpace(in.Phone); phone != "" && !phoneRe.MatchString(phone) {
		fields["phone"] = "please provide a valid phone number"
	}

	if len(fields) > 0 {
		return ValidationError{Fields: fields}
	}
	return nil
}

func validateLogin(in LoginInput) error {
	fields := map[string]string{}

	if strings.TrimSpace(in.Email) == "" {
		fields["email"] = "email is required"
	}
	if in.Password == "" {
		fields["password"] = "password is required"
	}

	if len(fields) > 0 {
		return ValidationError{Fields: fields}
	}
	return nil
}
