package login

import (
	"context"
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/cache"
	"github.com/dropDatabas3/beout-auth/internal/oauth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/pkce"
)

// El flujo web guarda state → "provider|verifier" en cache; Take lo consume.

func webStateKey(state string) string { return "web:state:" + state }

// StartWeb arma la URL del provider. El caller guarda state en una cookie.
func (s *service) StartWeb(ctx context.Context, p auth.Provider) (string, string, error) {
	c, err := s.provider(p)
	if err != nil {
		return "", "", err
	}
	state, err := pkce.NewState()
	if err != nil {
		return "", "", err
	}
	pair, err := pkce.Generate()
	if err != nil {
		return "", "", err
	}
	if err := s.cache.Set(ctx, webStateKey(state), p.String()+"|"+pair.Verifier, s.stateTTL); err != nil {
		return "", "", auth.ErrStorageUnavailable
	}
	u := c.AuthCodeURL(state, oauth.AuthOptions{
		Challenge:   pair.Challenge,
		RedirectURI: WebCallbackURL(s.publicURL, p),
	})
	s.log(ctx, "StartWeb").Debug("web login started", logger.Provider(p.String()), logger.Challenge(state))
	return u, state, nil
}

// CompleteWeb consume el state y completa el login.
func (s *service) CompleteWeb(ctx context.Context, p auth.Provider, state, code, providerErr string) (*auth.Session, error) {
	c, err := s.provider(p)
	if err != nil {
		return nil, err
	}
	raw, err := s.cache.Take(ctx, webStateKey(state))
	if err != nil {
		if !cache.IsNotFound(err) {
			s.log(ctx, "CompleteWeb").Warn("state cache unavailable", logger.Err(err))
		}
		s.fail(ctx, p, FlowWeb, auth.ErrStateMismatch)
		return nil, auth.ErrStateMismatch
	}
	stored, verifier, ok := strings.Cut(raw, "|")
	if !ok || stored != p.String() {
		s.fail(ctx, p, FlowWeb, auth.ErrStateMismatch)
		return nil, auth.ErrStateMismatch
	}
	if providerErr != "" {
		s.fail(ctx, p, FlowWeb, auth.ErrProviderDenied)
		return nil, auth.ErrProviderDenied
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingCode
	}

	a, err := s.exchangeAndFetch(ctx, c, oauth.ExchangeRequest{
		Code:        code,
		Verifier:    verifier,
		RedirectURI: WebCallbackURL(s.publicURL, p),
	})
	if err != nil {
		s.fail(ctx, p, FlowWeb, err)
		return nil, err
	}
	return s.finish(ctx, *a, FlowWeb)
}
