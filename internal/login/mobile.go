package login

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/oauth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/pkce"
	"github.com/dropDatabas3/beout-auth/internal/sessionstore"
)

// Flujo móvil (system browser):
//
//	app ── POST /mobile/session ──────────────▶ record pending
//	app ── abre browser /mobile/start ────────▶ 302 Google (state = challenge key)
//	Google ── /mobile/google/callback ────────▶ exchange + resolve + Complete
//	app ◀── deep link <scheme>://oauth/complete?state=…  |  GET /mobile/poll/{key}
//
// El code_verifier del tramo backend↔Google vive en el record y nunca sale del server.

func (s *service) createPending(ctx context.Context, sessionID, key, verifier string) error {
	if !pkce.ValidStateKey(key) {
		return ErrInvalidChallenge
	}
	err := s.store.Create(ctx, sessionstore.Record{
		ChallengeKey:     key,
		SessionID:        strings.TrimSpace(sessionID),
		Status:           sessionstore.StatusPending,
		CreatedAt:        s.now().UTC(),
		ProviderVerifier: verifier,
	})
	if errors.Is(err, sessionstore.ErrExists) {
		return ErrChallengeUsed
	}
	return err
}

// RegisterMobile pre-crea el record para que un poll temprano vea pending.
func (s *service) RegisterMobile(ctx context.Context, sessionID, key string) error {
	if err := s.createPending(ctx, sessionID, key, ""); err != nil {
		return err
	}
	s.log(ctx, "RegisterMobile").Debug("mobile session registered", logger.Challenge(key))
	return nil
}

// StartMobile crea (o reutiliza, si sigue pending) el record y arma la URL de
// Google. Reabrir el browser con el mismo challenge reusa el mismo verifier.
func (s *service) StartMobile(ctx context.Context, sessionID, key string) (string, error) {
	c, err := s.provider(auth.ProviderGoogle)
	if err != nil {
		return "", err
	}
	pair, err := pkce.Generate()
	if err != nil {
		return "", err
	}
	if err := s.createPending(ctx, sessionID, key, pair.Verifier); err != nil {
		return "", err
	}
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if rec.ProviderVerifier == "" {
		return "", auth.ErrStorageUnavailable
	}

	s.log(ctx, "StartMobile").Info("mobile login started", logger.Challenge(key))
	return c.AuthCodeURL(key, oauth.AuthOptions{
		Challenge:   pkce.ChallengeOf(rec.ProviderVerifier),
		RedirectURI: s.mobileCallbackURL(),
	}), nil
}

// CompleteMobile procesa el callback de Google. Un state sin record pending,
// o ya reclamado por otro callback, es StateMismatch y no se habla con el provider.
func (s *service) CompleteMobile(ctx context.Context, state, code, providerErr string) (*auth.Session, error) {
	log := s.log(ctx, "CompleteMobile").With(logger.Challenge(state))

	if !pkce.ValidStateKey(state) {
		return nil, auth.ErrStateMismatch
	}
	rec, err := s.store.Get(ctx, state)
	if err != nil || rec.Status != sessionstore.StatusPending || rec.ProviderVerifier == "" {
		log.Warn("callback for unknown or closed state")
		s.fail(ctx, auth.ProviderGoogle, FlowMobile, auth.ErrStateMismatch)
		return nil, auth.ErrStateMismatch
	}
	// Un callback repetido (reload, prefetch) no debe pisar al que está canjeando.
	if rec, err = s.store.Claim(ctx, state); err != nil {
		log.Warn("callback for already claimed state", logger.Err(err))
		s.fail(ctx, auth.ProviderGoogle, FlowMobile, auth.ErrStateMismatch)
		return nil, auth.ErrStateMismatch
	}

	sess, err := s.completeMobile(ctx, rec, code, providerErr)
	if err != nil {
		if ferr := s.store.Fail(ctx, state, auth.CodeOf(err)); ferr != nil {
			log.Warn("could not record failure", logger.Err(ferr))
		}
		return nil, err
	}
	if err := s.store.Complete(ctx, state, *sess); err != nil {
		// El record expiró (o lo cerró otro callback) mientras canjeábamos.
		log.Warn("session store rejected completion", logger.Err(err))
		return nil, auth.ErrSessionExpired
	}
	return sess, nil
}

func (s *service) completeMobile(ctx context.Context, rec *sessionstore.Record, code, providerErr string) (*auth.Session, error) {
	if providerErr != "" {
		s.fail(ctx, auth.ProviderGoogle, FlowMobile, auth.ErrProviderDenied)
		return nil, auth.ErrProviderDenied
	}
	if strings.TrimSpace(code) == "" {
		s.fail(ctx, auth.ProviderGoogle, FlowMobile, auth.ErrTokenExchangeFailed)
		return nil, auth.ErrTokenExchangeFailed
	}
	c, err := s.provider(auth.ProviderGoogle)
	if err != nil {
		return nil, err
	}
	a, err := s.exchangeAndFetch(ctx, c, oauth.ExchangeRequest{
		Code:        code,
		Verifier:    rec.ProviderVerifier,
		RedirectURI: s.mobileCallbackURL(),
	})
	if err != nil {
		s.fail(ctx, auth.ProviderGoogle, FlowMobile, err)
		return nil, err
	}
	return s.finish(ctx, *a, FlowMobile)
}

// Poll entrega el resultado una sola vez.
func (s *service) Poll(ctx context.Context, key string) (sessionstore.PollResult, error) {
	if !pkce.ValidStateKey(key) {
		return sessionstore.PollResult{}, ErrInvalidChallenge
	}
	res, err := s.store.Poll(ctx, key)
	if err != nil {
		return sessionstore.PollResult{}, err
	}
	if res.Status.Terminal() {
		s.log(ctx, "Poll").Info("mobile result delivered",
			logger.Challenge(key),
			logger.String("status", string(res.Status)),
		)
	}
	return res, nil
}
