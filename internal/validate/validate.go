// Package validate contains simple input validation helpers.
package validate

import (
	"errors"
	"regexp"
	"strings"
)

// usernameRe enforces a conservative username pattern.
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// emailRe is deliberately loose; real validation happens when mail is
// actually sent, which this system never does.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Username validates a username string for length and allowed characters.
func Username(s string) error {
	if !usernameRe.MatchString(s) {
		return errors.New("invalid username")
	}
	return nil
}

// Password enforces a minimum length only; composition rules are left to
// callers' policies.
func Password(s string) error {
	if len(s) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if len(s) > 256 {
		return errors.New("password is too long")
	}
	return nil
}

// Email checks the rough shape of an email address.
func Email(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("email is required")
	}
	if len(s) > 254 || !emailRe.MatchString(s) {
		return errors.New("invalid email")
	}
	return nil
}
