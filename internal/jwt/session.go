package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL es la única vigencia de sesión; todos los paths de login la usan.
const DefaultSessionTTL = 7 * 24 * time.Hour

// minSecretLen aplica fuera de dev (HS256 con menos de 256 bits es adivinable).
const minSecretLen = 32

var (
	ErrMissingSecret = errors.New("jwt: signing secret is not configured")
	ErrWeakSecret    = fmt.Errorf("jwt: signing secret must be at least %d bytes", minSecretLen)
	ErrInvalidToken  = errors.New("jwt: invalid session token")
	ErrExpiredToken  = errors.New("jwt: session token expired")
)

// Subject is what a session token is bound to.
type Subject struct {
	UserID string
	Email  string
	Role   string
}

// SessionClaims son las claims de la sesión de la app.
type SessionClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwtv5.RegisteredClaims
}

// SessionIssuer firma y verifica tokens de sesión HS256 con un secreto simétrico.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	iss    string
	now    func() time.Time
}

// SessionIssuerOption ajusta un SessionIssuer.
type SessionIssuerOption func(*SessionIssuer)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) SessionIssuerOption {
	return func(s *SessionIssuer) { s.now = now }
}

// RequireStrongSecret rechaza secretos de menos de 32 bytes.
func RequireStrongSecret() SessionIssuerOption {
	return func(s *SessionIssuer) {
		if len(s.secret) < minSecretLen {
			s.secret = nil
		}
	}
}

// NewSessionIssuer never returns a usable issuer without a secret: callers
// abort startup on error instead of minting guessable tokens.
func NewSessionIssuer(secret []byte, ttl time.Duration, issuer string, opts ...SessionIssuerOption) (*SessionIssuer, error) {
	if len(strings.TrimSpace(string(secret))) == 0 {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &SessionIssuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		iss:    issuer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if len(s.secret) == 0 {
		return nil, ErrWeakSecret
	}
	return s, nil
}

// TTL devuelve la vigencia configurada.
func (s *SessionIssuer) TTL() time.Duration { return s.ttl }

// Issue firma {userId, email, role} con exp = now + TTL.
func (s *SessionIssuer) Issue(sub Subject) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, errors.New("jwt: subject user id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := SessionClaims{
		UserID: sub.UserID,
		Email:  sub.Email,
		Role:   sub.Role,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   sub.UserID,
			Issuer:    s.iss,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, exp.Truncate(time.Second), nil
}

// Verify valida firma, algoritmo y expiración. No hay lista de revocación.
func (s *SessionIssuer) Verify(raw string) (*SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	var claims SessionClaims
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithTimeFunc(s.now),
		jwtv5.WithExpirationRequired(),
	}
	if s.iss != "" {
		opts = append(opts, jwtv5.WithIssuer(s.iss))
	}
	parser := jwtv5.NewParser(opts...)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwtv5.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
