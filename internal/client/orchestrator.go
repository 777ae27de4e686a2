package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/credcache"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/pkce"
)

var (
	// ErrRedirected: en web el login sigue en otra página; el resultado llega
	// por CompleteWebRedirect.
	ErrRedirected = errors.New("client: navigated to provider")
	// ErrNotSignedIn: no hay credenciales en el cache.
	ErrNotSignedIn = errors.New("client: no stored credentials")
)

// CredentialStore es el cache de credenciales (credcache.Cache).
type CredentialStore interface {
	Store(credcache.Credentials) credcache.Layer
	GetStored() *credcache.Credentials
	Clear()
	// RememberMe decide si un login nuevo se persiste.
	RememberMe() bool
}

type Config struct {
	Platform PlatformCapabilities
	API      *API
	Cache    CredentialStore

	PollInterval time.Duration
	Timeout      time.Duration

	// OnState recibe cada transición del intento en curso.
	OnState func(State)
	Logger  *zap.Logger
}

// Orchestrator elige el flujo según la plataforma y deja la sesión en el cache.
type Orchestrator struct {
	cfg     Config
	log     *zap.Logger
	restore singleflight.Group

	mu      sync.Mutex
	current *auth.Session // sesión viva, persistida o no
}

func New(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.L()
	}
	return &Orchestrator{cfg: cfg, log: log.With(logger.Component("client"))}
}

// SignIn corre un intento completo. En web devuelve ErrRedirected.
func (o *Orchestrator) SignIn(ctx context.Context, p auth.Provider) (*auth.Session, error) {
	sm := newMachine(o.cfg.OnState)
	sm.to(StateInitiating)
	log := o.log.With(logger.Provider(p.String()), logger.Flow(string(o.cfg.Platform.Kind())))

	sess, err := o.signIn(ctx, p, sm, log)
	if errors.Is(err, ErrRedirected) {
		return nil, err
	}
	if err != nil {
		log.Info("sign-in failed", logger.Outcome(CodeOf(err)))
	}
	sm.finish(err)
	return sess, err
}

func (o *Orchestrator) signIn(ctx context.Context, p auth.Provider, sm *machine, log *zap.Logger) (*auth.Session, error) {
	plat := o.cfg.Platform
	if plat.Kind() == KindWeb {
		sm.to(StateAwaitingProvider)
		if err := plat.NavigateTo(o.cfg.API.WebLoginURL(p)); err != nil {
			return nil, newError(auth.CodeInternal, err)
		}
		return nil, ErrRedirected
	}

	if cp, ok := plat.CredentialProvider(); ok {
		sm.to(StateAwaitingProvider)
		cred, err := cp.SignIn(ctx, p)
		switch {
		case err == nil:
			cred.Provider = p
			sess, err := o.cfg.API.SignInWithIDToken(ctx, cred)
			if err != nil {
				return nil, err
			}
			return o.establish(ctx, sess)
		case errors.Is(err, ErrCredentialDenied):
			log.Debug("native provider unavailable, falling back to browser")
		default:
			// ErrCredentialCancelled o cualquier otro rechazo del diálogo
			return nil, newError(auth.CodeProviderDenied, err)
		}
	}

	att, err := o.start(ctx, sm)
	if err != nil {
		return nil, err
	}
	sess, err := att.Await(ctx)
	if err != nil {
		return nil, err
	}
	return o.establish(ctx, sess)
}

// start registra la sesión y abre el browser del sistema.
func (o *Orchestrator) start(ctx context.Context, sm *machine) (*Attempt, error) {
	key, err := pkce.NewState()
	if err != nil {
		return nil, newError(auth.CodeInternal, err)
	}
	att := &Attempt{
		Key:          key,
		SessionID:    uuid.NewString(),
		api:          o.cfg.API,
		links:        o.cfg.Platform.DeepLinks(),
		sm:           sm,
		pollInterval: o.cfg.PollInterval,
		timeout:      o.cfg.Timeout,
		log:          o.log,
	}
	if err := o.cfg.API.RegisterSession(ctx, att.SessionID, att.Key); err != nil {
		return nil, err
	}
	if err := o.cfg.Platform.OpenSystemBrowser(ctx, o.cfg.API.StartURL(att.SessionID, att.Key)); err != nil {
		return nil, newError(auth.CodeNoBrowserAvailable, fmt.Errorf("open browser: %w", err))
	}
	sm.to(StateAwaitingProvider)
	return att, nil
}

// establish trae el perfil y guarda las credenciales. Si /auth/me falla no
// queda nada a medias: se limpia el cache.
func (o *Orchestrator) establish(ctx context.Context, sess *auth.Session) (*auth.Session, error) {
	user, err := o.cfg.API.Me(ctx, sess.Token)
	if err != nil {
		o.clear()
		if CodeOf(err) == auth.CodeSessionExpired {
			return nil, err
		}
		return nil, newError(auth.CodeBackendUnreachable, err)
	}
	sess.User = *user
	o.setCurrent(sess)
	switch {
	case o.cfg.Cache == nil:
	case o.cfg.Cache.RememberMe():
		layer := o.cfg.Cache.Store(credcache.Credentials{Token: sess.Token, User: *user})
		o.log.Debug("credentials stored", logger.Layer(string(layer)), logger.UserID(user.ID))
	default:
		// sin remember-me la sesión vive solo en memoria; no queda la de un login anterior
		o.cfg.Cache.Clear()
		o.log.Debug("session kept in memory only", logger.UserID(user.ID))
	}
	return sess, nil
}

func (o *Orchestrator) setCurrent(sess *auth.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess == nil {
		o.current = nil
		return
	}
	cp := *sess
	o.current = &cp
}

// Session devuelve la sesión establecida en este proceso, o nil.
func (o *Orchestrator) Session() *auth.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	cp := *o.current
	return &cp
}

// Restore re-autentica en silencio con lo que haya en el cache. Llamadas
// concurrentes comparten un solo /auth/me.
func (o *Orchestrator) Restore(ctx context.Context) (*auth.Session, error) {
	v, err, _ := o.restore.Do("restore", func() (any, error) {
		return o.doRestore(ctx)
	})
	if err != nil {
		return nil, err
	}
	s := *v.(*auth.Session)
	return &s, nil
}

func (o *Orchestrator) doRestore(ctx context.Context) (*auth.Session, error) {
	var cred *credcache.Credentials
	if o.cfg.Cache != nil {
		cred = o.cfg.Cache.GetStored()
	}
	var token string
	if cred != nil {
		token = cred.Token
	} else if cur := o.Session(); cur != nil {
		token = cur.Token
	}
	if token == "" {
		return nil, newError(auth.CodeSessionExpired, ErrNotSignedIn)
	}

	user, err := o.cfg.API.Me(ctx, token)
	if err != nil {
		if CodeOf(err) == auth.CodeSessionExpired {
			o.clear()
			return nil, err
		}
		// sin red se conserva el cache para el próximo intento
		return nil, err
	}
	sess := &auth.Session{Token: token, User: *user}
	o.setCurrent(sess)
	if cred != nil {
		// Refresca el perfil; la expiración de 30 días sigue contando desde el login.
		o.cfg.Cache.Store(credcache.Credentials{Token: token, User: *user, Timestamp: cred.Timestamp})
	}
	return sess, nil
}

// Logout borra las credenciales locales.
func (o *Orchestrator) Logout() {
	o.clear()
	o.log.Info("signed out")
}

func (o *Orchestrator) clear() {
	o.setCurrent(nil)
	if o.cfg.Cache != nil {
		o.cfg.Cache.Clear()
	}
}

// CompleteWebRedirect termina el flujo web con la URL a la que volvió el
// browser: <base>/success?token=... o <base>/failure?error=....
func (o *Orchestrator) CompleteWebRedirect(ctx context.Context, raw string) (*auth.Session, error) {
	sm := newMachine(o.cfg.OnState)
	sm.to(StateDeepLinkReceived)
	sess, err := o.completeWeb(ctx, raw)
	sm.finish(err)
	return sess, err
}

func (o *Orchestrator) completeWeb(ctx context.Context, raw string) (*auth.Session, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(auth.CodeInternal, err)
	}
	q := u.Query()
	if code := q.Get("error"); code != "" || strings.HasSuffix(u.Path, "/failure") {
		if !knownCode(code) {
			code = auth.CodeInternal
		}
		return nil, newError(code, nil)
	}
	token := q.Get("token")
	if token == "" {
		return nil, newError(auth.CodeInternal, errors.New("client: redirect without token"))
	}
	return o.establish(ctx, &auth.Session{Token: token})
}
