// Package verifier valida id_tokens de Google y Apple (go-oidc) y los
// convierte en auth.Assertion.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dropDatabas3/beout-auth/internal/auth"
)

const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	AppleIssuer   = "https://appleid.apple.com"
	AppleJWKSURL  = "https://appleid.apple.com/auth/keys"
)

// IDTokenVerifier verifica un id_token crudo. Cualquier falla es
// auth.ErrInvalidAssertion y no se reintenta.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.Assertion, error)
}

// Config de un verifier OIDC.
type Config struct {
	Provider  auth.Provider
	Issuer    string
	Audiences []string // cualquiera de estos es aceptado
	Algs      []string
	KeySet    oidc.KeySet
	Now       func() time.Time // tests
}

// OIDC implementa IDTokenVerifier sobre go-oidc.
type OIDC struct {
	provider  auth.Provider
	verifier  *oidc.IDTokenVerifier
	audiences map[string]bool
}

var _ IDTokenVerifier = (*OIDC)(nil)

// New construye el verifier. El chequeo de audience lo hacemos nosotros
// porque go-oidc acepta un único client id.
func New(cfg Config) (*OIDC, error) {
	if cfg.KeySet == nil {
		return nil, fmt.Errorf("verifier: %s: key set is required", cfg.Provider)
	}
	aud := make(map[string]bool, len(cfg.Audiences))
	for _, a := range cfg.Audiences {
		if a = strings.TrimSpace(a); a != "" {
			aud[a] = true
		}
	}
	if len(aud) == 0 {
		return nil, fmt.Errorf("verifier: %s: at least one audience is required", cfg.Provider)
	}
	return &OIDC{
		provider: cfg.Provider,
		verifier: oidc.NewVerifier(cfg.Issuer, cfg.KeySet, &oidc.Config{
			SkipClientIDCheck:    true,
			SupportedSigningAlgs: cfg.Algs,
			Now:                  cfg.Now,
		}),
		audiences: aud,
	}, nil
}

// NewGoogle usa el JWKS remoto de Google (cacheado por go-oidc).
func NewGoogle(ctx context.Context, audiences []string) (*OIDC, error) {
	return New(Config{
		Provider:  auth.ProviderGoogle,
		Issuer:    GoogleIssuer,
		Audiences: audiences,
		Algs:      []string{oidc.RS256},
		KeySet:    oidc.NewRemoteKeySet(ctx, GoogleJWKSURL),
	})
}

// NewApple usa el JWKS remoto de Apple.
func NewApple(ctx context.Context, audiences []string) (*OIDC, error) {
	return New(Config{
		Provider:  auth.ProviderApple,
		Issuer:    AppleIssuer,
		Audiences: audiences,
		Algs:      []string{oidc.RS256, oidc.ES256},
		KeySet:    oidc.NewRemoteKeySet(ctx, AppleJWKSURL),
	})
}

// flexBool acepta true y "true" (Apple manda strings).
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(strings.EqualFold(t, "true"))
	}
	return nil
}

type idClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Picture       string   `json:"picture"`
}

func (v *OIDC) Verify(ctx context.Context, raw string) (*auth.Assertion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty id token", auth.ErrInvalidAssertion)
	}
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", auth.ErrInvalidAssertion, v.provider, err)
	}
	if !v.audienceOK(tok.Audience) {
		return nil, fmt.Errorf("%w: %s: audience not allowed", auth.ErrInvalidAssertion, v.provider)
	}
	var c idClaims
	if err := tok.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %s: claims: %v", auth.ErrInvalidAssertion, v.provider, err)
	}
	if tok.Subject == "" || strings.TrimSpace(c.Email) == "" {
		return nil, fmt.Errorf("%w: %s: missing sub or email", auth.ErrInvalidAssertion, v.provider)
	}
	return &auth.Assertion{
		Provider:       v.provider,
		ProviderUserID: tok.Subject,
		Email:          c.Email,
		EmailVerified:  bool(c.EmailVerified),
		DisplayName:    c.Name,
		GivenName:      c.GivenName,
		FamilyName:     c.FamilyName,
		AvatarURL:      c.Picture,
	}, nil
}

func (v *OIDC) audienceOK(aud []string) bool {
	for _, a := range aud {
		if v.audiences[a] {
			return true
		}
	}
	return false
}
