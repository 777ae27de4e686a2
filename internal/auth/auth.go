// Package auth holds the domain types shared by every login path: the verified
// identity assertion, the issued session and the error taxonomy.
package auth

import (
	"errors"
	"strings"
	"time"
)

// Provider identifies a third-party identity provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderApple    Provider = "apple"
	ProviderFacebook Provider = "facebook"
)

// ParseProvider normaliza el nombre del provider. Devuelve false si no es soportado.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGoogle:
		return ProviderGoogle, true
	case ProviderApple:
		return ProviderApple, true
	case ProviderFacebook:
		return ProviderFacebook, true
	}
	return "", false
}

func (p Provider) String() string { return string(p) }

// Assertion is a third-party proof of identity. It is produced by a verifier
// or a provider user-info call and consumed once by the identity resolver.
type Assertion struct {
	Provider       Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	DisplayName    string
	GivenName      string
	FamilyName     string
	AvatarURL      string
}

// Validate checks the fields the resolver cannot work without.
func (a *Assertion) Validate() error {
	if a == nil {
		return ErrInvalidAssertion
	}
	if _, ok := ParseProvider(string(a.Provider)); !ok {
		return ErrInvalidAssertion
	}
	if strings.TrimSpace(a.ProviderUserID) == "" || strings.TrimSpace(a.Email) == "" {
		return ErrInvalidAssertion
	}
	if at := strings.LastIndexByte(a.Email, '@'); at < 1 || at == len(a.Email)-1 {
		return ErrInvalidAssertion
	}
	return nil
}

// PublicUser is the user shape returned to clients together with a session token.
type PublicUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"isVerified"`
	Provider   string    `json:"provider"`
	FirstName  string    `json:"firstName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastLogin  time.Time `json:"lastLogin"`
}

// Session is the result of a successful login on any path.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      PublicUser `json:"user"`
}

// Error taxonomy. Handlers map these with errors.Is; the client surfaces the
// matching Code string.
var (
	ErrProviderDenied      = errors.New("provider denied")
	ErrInvalidAssertion    = errors.New("invalid identity assertion")
	ErrStateMismatch       = errors.New("state mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrSessionExpired      = errors.New("session expired")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrBackendUnreachable  = errors.New("backend unreachable")
)

// Codes expuestos a la UI.
const (
	CodeProviderDenied      = "provider_denied"
	CodeInvalidAssertion    = "invalid_assertion"
	CodeStateMismatch       = "state_mismatch"
	CodeNoBrowserAvailable  = "no_browser_available"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeSessionExpired      = "session_expired"
	CodeBackendUnreachable  = "backend_unreachable"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal_error"
)

// CodeOf returns the taxonomy code for err, or CodeInternal.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderDenied):
		return CodeProviderDenied
	case errors.Is(err, ErrInvalidAssertion):
		return CodeInvalidAssertion
	case errors.Is(err, ErrStateMismatch):
		return CodeStateMismatch
	case errors.Is(err, ErrTokenExchangeFailed):
		return CodeTokenExchangeFailed
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, ErrBackendUnreachable):
		return CodeBackendUnreachable
	}
	return CodeInternal
}
