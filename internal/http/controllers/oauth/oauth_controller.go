// Package oauth contiene los controllers del flujo web con redirect y del
// id_token de Google enviado por la app.
package oauth

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/http/dto"
	httperrors "github.com/dropDatabas3/beout-auth/internal/http/errors"
	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	"github.com/dropDatabas3/beout-auth/internal/login"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// StateCookie guarda el state del flujo web entre login y callback.
const StateCookie = "beout_oauth_state"

// Config del controller.
type Config struct {
	// AppRedirectBase recibe /success?token=... o /failure?error=...
	AppRedirectBase string
	// SecureCookies marca la cookie de state como Secure (prod).
	SecureCookies bool
	StateTTL      time.Duration
}

// Controller maneja /oauth/*.
type Controller struct {
	svc login.Service
	cfg Config
}

// NewController crea el controller.
func NewController(svc login.Service, cfg Config) *Controller {
	cfg.AppRedirectBase = strings.TrimRight(cfg.AppRedirectBase, "/")
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &Controller{svc: svc, cfg: cfg}
}

// webProvider acepta solo los providers con flujo web.
func webProvider(r *http.Request) (auth.Provider, bool) {
	p, ok := auth.ParseProvider(chi.URLParam(r, "provider"))
	if !ok || p == auth.ProviderApple {
		return "", false
	}
	return p, true
}

// Login maneja GET /oauth/{provider}/login.
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := webProvider(r)
	if !ok {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrNotFound.WithDetail("unknown provider"))
		return
	}

	authURL, state, err := c.svc.StartWeb(ctx, p)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/oauth/",
		MaxAge:   int(c.cfg.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback maneja GET /oauth/{provider}/callback. Siempre termina en un 302 a la app.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OAuthController.Callback"))

	p, ok := webProvider(r)
	if !ok {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrNotFound.WithDetail("unknown provider"))
		return
	}

	q := r.URL.Query()
	state := q.Get("state")
	c.clearStateCookie(w)

	cookie, err := r.Cookie(StateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		log.Warn("state cookie mismatch", logger.Provider(p.String()))
		c.redirectFailure(w, r, auth.CodeStateMismatch)
		return
	}

	sess, err := c.svc.CompleteWeb(ctx, p, state, q.Get("code"), q.Get("error"))
	if err != nil {
		c.redirectFailure(w, r, auth.CodeOf(err))
		return
	}
	http.Redirect(w, r, c.cfg.AppRedirectBase+"/success?token="+url.QueryEscape(sess.Token), http.StatusFound)
}

func (c *Controller) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/oauth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Controller) redirectFailure(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, c.cfg.AppRedirectBase+"/failure?error="+url.QueryEscape(code), http.StatusFound)
}

// GoogleIDToken maneja POST /oauth/google/mobile-callback {idToken}.
func (c *Controller) GoogleIDToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.IDTokenRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrMissingFields.WithDetail("idToken is required"))
		return
	}
	sess, err := c.svc.SignInWithIDToken(ctx, auth.ProviderGoogle, req.IDToken, login.Names{})
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewSessionResponse(sess))
}
