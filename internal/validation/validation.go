// Package validation provides input sanitization helpers.
package validation

import (
	"net"
	"strings"
	"unicode"
)

// SanitizeString trims whitespace, strips control characters, and
// truncates to maxLen runes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	runes := []rune(s)
	if maxLen > 0 && len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}

// IsValidIP reports whether s is a syntactically valid IPv4 or IPv6 address.
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}
