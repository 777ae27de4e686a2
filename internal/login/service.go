// Package login orquesta los caminos de login: canje de código PKCE,
// id_token nativo, flujo móvil con session store y flujo web con redirect.
// Todos terminan en el mismo lugar: resolver identidad y emitir la sesión.
package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/audit"
	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/cache"
	"github.com/dropDatabas3/beout-auth/internal/identity"
	"github.com/dropDatabas3/beout-auth/internal/jwt"
	"github.com/dropDatabas3/beout-auth/internal/metrics"
	"github.com/dropDatabas3/beout-auth/internal/oauth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/pkce"
	"github.com/dropDatabas3/beout-auth/internal/sessionstore"
	"github.com/dropDatabas3/beout-auth/internal/verifier"
	"go.uber.org/zap"
)

// Flows (label de métricas y logs).
const (
	FlowWeb      = "web"
	FlowMobile   = "mobile"
	FlowExchange = "exchange"
	FlowNative   = "native"
)

// Errores de entrada; la capa HTTP los mapea a 400.
var (
	ErrUnsupportedProvider = errors.New("login: provider not configured")
	ErrMissingCode         = errors.New("login: authorization code is required")
	ErrInvalidVerifier     = errors.New("login: code verifier is malformed")
	ErrRedirectNotAllowed  = errors.New("login: redirect uri not allowed")
	ErrClientNotAllowed    = errors.New("login: client id not allowed")
	ErrInvalidChallenge    = errors.New("login: challenge key is malformed")
	ErrChallengeUsed       = errors.New("login: challenge key already used")
)

// Resolver es la parte de identity.Resolver que usa el servicio.
type Resolver interface {
	Resolve(ctx context.Context, a auth.Assertion) (*identity.Resolution, error)
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

// Issuer firma tokens de sesión.
type Issuer interface {
	Issue(sub jwt.Subject) (string, time.Time, error)
}

// Names son los nombres que el cliente nativo recibe del provider (Apple solo
// los entrega en el primer login y nunca dentro del id_token).
type Names struct {
	FirstName string
	LastName  string
}

// Service expone todas las operaciones de login.
type Service interface {
	ExchangeCode(ctx context.Context, provider auth.Provider, req oauth.ExchangeRequest) (*auth.Session, error)
	SignInWithIDToken(ctx context.Context, provider auth.Provider, rawToken string, names Names) (*auth.Session, error)

	RegisterMobile(ctx context.Context, sessionID, challengeKey string) error
	StartMobile(ctx context.Context, sessionID, challengeKey string) (string, error)
	CompleteMobile(ctx context.Context, state, code, providerErr string) (*auth.Session, error)
	Poll(ctx context.Context, challengeKey string) (sessionstore.PollResult, error)

	StartWeb(ctx context.Context, provider auth.Provider) (authURL, state string, err error)
	CompleteWeb(ctx context.Context, provider auth.Provider, state, code, providerErr string) (*auth.Session, error)

	CurrentUser(ctx context.Context, userID string) (*auth.PublicUser, error)
}

// Deps contiene las dependencias del servicio.
type Deps struct {
	Providers oauth.Registry
	Verifiers map[auth.Provider]verifier.IDTokenVerifier
	Resolver  Resolver
	Issuer    Issuer
	Store     sessionstore.Store
	Cache     cache.Client // state→verifier del flujo web
	Policy    oauth.RedirectPolicy

	// PublicURL es la base del backend (callbacks web y móvil).
	PublicURL string
	// StateTTL de los states web (default 10m).
	StateTTL time.Duration
	Now      func() time.Time
}

type service struct {
	providers oauth.Registry
	verifiers map[auth.Provider]verifier.IDTokenVerifier
	resolver  Resolver
	issuer    Issuer
	store     sessionstore.Store
	cache     cache.Client
	policy    oauth.RedirectPolicy
	publicURL string
	stateTTL  time.Duration
	now       func() time.Time
}

// NewService crea el servicio de login.
func NewService(d Deps) Service {
	s := &service{
		providers: d.Providers,
		verifiers: d.Verifiers,
		resolver:  d.Resolver,
		issuer:    d.Issuer,
		store:     d.Store,
		cache:     d.Cache,
		policy:    d.Policy,
		publicURL: strings.TrimRight(d.PublicURL, "/"),
		stateTTL:  d.StateTTL,
		now:       d.Now,
	}
	if s.providers == nil {
		s.providers = oauth.Registry{}
	}
	if s.stateTTL <= 0 {
		s.stateTTL = sessionstore.DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// MobileCallbackURL es el redirect_uri registrado para el flujo móvil.
func MobileCallbackURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/mobile/google/callback"
}

func (s *service) mobileCallbackURL() string { return MobileCallbackURL(s.publicURL) }

// WebCallbackURL es el redirect_uri del flujo web para provider.
func WebCallbackURL(publicURL string, p auth.Provider) string {
	return strings.TrimRight(publicURL, "/") + "/oauth/" + p.String() + "/callback"
}

func (s *service) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("login"),
		logger.Op(op),
	)
}

func (s *service) provider(p auth.Provider) (oauth.Client, error) {
	c, ok := s.providers.Get(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
	return c, nil
}

// ExchangeCode canjea un código obtenido por el cliente (PKCE de punta a punta).
// Redirect y client id se validan antes de hablar con el provider.
func (s *service) ExchangeCode(ctx context.Context, p auth.Provider, req oauth.ExchangeRequest) (*auth.Session, error) {
	log := s.log(ctx, "ExchangeCode").With(logger.Provider(p.String()))

	req.Code = strings.TrimSpace(req.Code)
	req.RedirectURI = strings.TrimSpace(req.RedirectURI)
	req.ClientID = strings.TrimSpace(req.ClientID)
	switch {
	case req.Code == "":
		return nil, ErrMissingCode
	case !pkce.ValidVerifier(req.Verifier):
		return nil, ErrInvalidVerifier
	case !s.policy.AllowRedirect(req.RedirectURI):
		log.Warn("redirect uri rejected", logger.String("redirect_uri", req.RedirectURI))
		return nil, ErrRedirectNotAllowed
	case !s.policy.AllowClientID(req.ClientID):
		log.Warn("client id rejected", logger.String("client_id", req.ClientID))
		return nil, ErrClientNotAllowed
	}

	c, err := s.provider(p)
	if err != nil {
		return nil, err
	}
	a, err := s.exchangeAndFetch(ctx, c, req)
	if err != nil {
		s.fail(ctx, p, FlowExchange, err)
		return nil, err
	}
	return s.finish(ctx, *a, FlowExchange)
}

// SignInWithIDToken verifica un id_token nativo (Google, Apple).
func (s *service) SignInWithIDToken(ctx context.Context, p auth.Provider, raw string, names Names) (*auth.Session, error) {
	v, ok := s.verifiers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
	a, err := v.Verify(ctx, raw)
	if err != nil {
		s.fail(ctx, p, FlowNative, err)
		return nil, err
	}
	if fn := strings.TrimSpace(names.FirstName); fn != "" && a.GivenName == "" {
		a.GivenName = fn
	}
	if ln := strings.TrimSpace(names.LastName); ln != "" && a.FamilyName == "" {
		a.FamilyName = ln
	}
	return s.finish(ctx, *a, FlowNative)
}

func (s *service) exchangeAndFetch(ctx context.Context, c oauth.Client, req oauth.ExchangeRequest) (*auth.Assertion, error) {
	start := s.now()
	tok, err := c.Exchange(ctx, req)
	metrics.ProviderExchangeLatency.WithLabelValues(c.Name().String()).Observe(s.now().Sub(start).Seconds())
	if err != nil {
		var perr *oauth.ProviderError
		if errors.As(err, &perr) {
			s.log(ctx, "Exchange").Warn("provider rejected code",
				logger.Provider(c.Name().String()),
				logger.Int("provider_status", perr.Status),
				logger.String("provider_body", perr.Body),
			)
		}
		return nil, err
	}
	return c.UserInfo(ctx, tok)
}

// finish resuelve la identidad y emite la sesión. Cualquier error aborta sin sesión.
func (s *service) finish(ctx context.Context, a auth.Assertion, flow string) (*auth.Session, error) {
	res, err := s.resolver.Resolve(ctx, a)
	if err != nil {
		s.fail(ctx, a.Provider, flow, err)
		return nil, err
	}
	u := res.User
	token, exp, err := s.issuer.Issue(jwt.Subject{UserID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		s.fail(ctx, a.Provider, flow, err)
		return nil, fmt.Errorf("login: issue session: %w", err)
	}
	metrics.Login(a.Provider.String(), flow, "ok")
	s.log(ctx, "finish").Info("session issued",
		logger.Provider(a.Provider.String()),
		logger.Flow(flow),
		logger.UserID(u.ID),
		logger.Outcome(string(res.Outcome)),
	)
	audit.Log(ctx, audit.EventLoginSucceeded,
		logger.UserID(u.ID),
		logger.Provider(a.Provider.String()),
		logger.Flow(flow),
		logger.Outcome(string(res.Outcome)),
	)
	if res.Outcome == identity.OutcomeLinked {
		audit.Log(ctx, audit.EventAccountLinked,
			logger.UserID(u.ID),
			logger.Provider(a.Provider.String()),
			logger.String("previous_provider", res.PreviousProvider),
			logger.Bool("email_verified", res.EmailVerified),
		)
	}
	return &auth.Session{Token: token, ExpiresAt: exp, User: u.Public()}, nil
}

func (s *service) fail(ctx context.Context, p auth.Provider, flow string, err error) {
	code := auth.CodeOf(err)
	metrics.Login(p.String(), flow, code)
	s.log(ctx, "fail").Warn("login failed",
		logger.Provider(p.String()),
		logger.Flow(flow),
		logger.String("code", code),
		logger.Err(err),
	)
	audit.Log(ctx, audit.EventLoginFailed,
		logger.Provider(p.String()),
		logger.Flow(flow),
		logger.Outcome(code),
	)
}

// CurrentUser devuelve el usuario de una sesión verificada.
func (s *service) CurrentUser(ctx context.Context, userID string) (*auth.PublicUser, error) {
	u, err := s.resolver.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	pu := u.Public()
	return &pu, nil
}
