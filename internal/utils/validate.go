package utils

import (
	"regexp"
	"strings"
)

// PasswordSymbols is the fixed punctuation set a password must draw from.
const PasswordSymbols = "@$!%*?&"

// emailRegex is a conservative local@domain.tld shape check, not RFC 5322.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email has the local@domain shape.
func ValidEmail(email string) bool {
	return len(email) <= 255 && emailRegex.MatchString(email)
}

// StrongPassword enforces: at least 8 characters, one uppercase, one
// lowercase, one digit and one symbol from PasswordSymbols, with no other
// characters allowed.
func StrongPassword(password string) bool {
	if len(password) < 8 || len(password) > 72 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		default:
			return false
		}
	}
	return upper && lower && digit && symbol
}
