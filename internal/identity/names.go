package identity

import (
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// NormalizeEmail trims and lower-cases an email for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitDisplayName separa "Ana María López" en ("Ana", "María López").
func SplitDisplayName(display string) (first, last string) {
	fields := strings.Fields(display)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// profileNames prefiere given/family explícitos sobre el display name.
func profileNames(a auth.Assertion) (string, string) {
	first, last := SplitDisplayName(a.DisplayName)
	if g := strings.TrimSpace(a.GivenName); g != "" {
		first = g
	}
	if f := strings.TrimSpace(a.FamilyName); f != "" {
		last = f
	}
	return first, last
}
