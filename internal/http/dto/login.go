// Package dto define los cuerpos de request/response de la API de login.
package dto

import "github.com/dropDatabas3/beout-auth/internal/auth"

// CodeExchangeRequest es el body de /mobile/google/token, /exchange-mobile-token
// y /desktop/google/token.
type CodeExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURI  string `json:"redirectUri"`
	ClientID     string `json:"clientId,omitempty"`
}

// IDTokenRequest es el body de /oauth/google/mobile-callback.
type IDTokenRequest struct {
	IDToken string `json:"idToken"`
}

// AppleTokenRequest es el body de /mobile/apple/token.
type AppleTokenRequest struct {
	IdentityToken string `json:"identityToken"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
}

// MobileSessionRequest pre-registra un intento móvil.
type MobileSessionRequest struct {
	Session   string `json:"session"`
	Challenge string `json:"challenge"`
}

// SuccessResponse es {success:true}.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SessionResponse es la respuesta de todos los logins directos.
type SessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt int64           `json:"expiresAt"`
	User      auth.PublicUser `json:"user"`
}

// NewSessionResponse arma la respuesta desde la sesión emitida.
func NewSessionResponse(s *auth.Session) SessionResponse {
	return SessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt.Unix(), User: s.User}
}

// PollResponse es la respuesta de /mobile/poll/{challenge}.
type PollResponse struct {
	Status string           `json:"status"`
	Token  string           `json:"token,omitempty"`
	User   *auth.PublicUser `json:"user,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// MeResponse es la respuesta de /auth/me.
type MeResponse struct {
	User auth.PublicUser `json:"user"`
}
