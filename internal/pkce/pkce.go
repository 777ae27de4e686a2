// Package pkce genera los valores efímeros de un intento de login: el par
// verifier/challenge (RFC 7636, S256) y los valores anti-CSRF state y nonce.
package pkce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// MethodS256 es el único método de challenge soportado.
const MethodS256 = "S256"

// Pair es un par verifier/challenge. El Verifier solo viaja en el exchange final.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
	CreatedAt time.Time
}

// Generate crea un verifier de 256 bits (43 chars base64url sin padding) y su challenge.
func Generate() (Pair, error) {
	v := oauth2.GenerateVerifier()
	if !ValidVerifier(v) {
		return Pair{}, fmt.Errorf("pkce: generated verifier has unexpected shape")
	}
	return Pair{
		Verifier:  v,
		Challenge: ChallengeOf(v),
		Method:    MethodS256,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ChallengeOf returns base64url(sha256(verifier)).
func ChallengeOf(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Verify reports whether challenge was derived from verifier.
func Verify(verifier, challenge string) bool {
	if !ValidVerifier(verifier) || challenge == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ChallengeOf(verifier)), []byte(challenge)) == 1
}

// ValidVerifier checks RFC 7636 length (43..128) and the unreserved charset.
func ValidVerifier(v string) bool {
	if len(v) < 43 || len(v) > 128 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !isUnreserved(v[i]) {
			return false
		}
	}
	return true
}

// ValidStateKey acepta solo valores base64url de al menos 22 chars (≥128 bits).
// Las claves del session store no están autenticadas, así que deben ser inadivinables.
func ValidStateKey(s string) bool {
	if len(s) < 22 || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(isAlnum(c) || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// NewState returns 256 random bits, base64url encoded.
func NewState() (string, error) { return randomToken(32) }

// NewNonce returns 256 random bits, base64url encoded.
func NewNonce() (string, error) { return randomToken(32) }

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pkce: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isUnreserved(c byte) bool {
	return isAlnum(c) || c == '-' || c == '.' || c == '_' || c == '~'
}
