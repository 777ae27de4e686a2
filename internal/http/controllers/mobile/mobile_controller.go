// Package mobile contiene los controllers del flujo móvil (system browser +
// session store) y de los canjes directos desde la app.
package mobile

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/http/dto"
	httperrors "github.com/dropDatabas3/beout-auth/internal/http/errors"
	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	"github.com/dropDatabas3/beout-auth/internal/login"
	"github.com/dropDatabas3/beout-auth/internal/oauth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/sessionstore"
)

// Controller maneja /mobile/*, /exchange-mobile-token y /desktop/google/token.
type Controller struct {
	svc       login.Service
	appScheme string
}

// NewController crea el controller. appScheme es el scheme del deep link de resultado.
func NewController(svc login.Service, appScheme string) *Controller {
	return &Controller{svc: svc, appScheme: strings.TrimSuffix(strings.TrimSpace(appScheme), "://")}
}

// Session maneja POST /mobile/session {session, challenge}.
func (c *Controller) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.MobileSessionRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Session == "" || req.Challenge == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrMissingFields.WithDetail("session and challenge are required"))
		return
	}
	if err := c.svc.RegisterMobile(ctx, req.Session, req.Challenge); err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.SuccessResponse{Success: true})
}

// Start maneja GET /mobile/start?session=&challenge=; 302 a Google.
func (c *Controller) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	session, challenge := q.Get("session"), q.Get("challenge")
	if session == "" || challenge == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrMissingFields.WithDetail("session and challenge are required"))
		return
	}
	authURL, err := c.svc.StartMobile(ctx, session, challenge)
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback maneja GET /mobile/google/callback. Devuelve la página HTML que
// vuelve a la app por deep link.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	state := q.Get("state")

	_, err := c.svc.CompleteMobile(ctx, state, q.Get("code"), q.Get("error"))
	switch {
	case err == nil:
		renderPage(w, r, http.StatusOK, pageData{
			OK:       true,
			Title:    "Signed in",
			Message:  "You have been successfully signed in with Google.",
			DeepLink: deepLink(c.appScheme, state, ""),
		})
	case errors.Is(err, auth.ErrStateMismatch):
		// Sin record no hay a quién avisar: ni deep link ni exchange.
		renderPage(w, r, http.StatusBadRequest, pageData{
			Title:   "Sign-in failed",
			Message: failureMessage(auth.CodeStateMismatch),
		})
	default:
		code := auth.CodeOf(err)
		status := http.StatusBadRequest
		if code == auth.CodeInternal || code == auth.CodeBackendUnreachable {
			status = http.StatusInternalServerError
		}
		renderPage(w, r, status, pageData{
			Title:    "Sign-in failed",
			Message:  failureMessage(code),
			DeepLink: deepLink(c.appScheme, state, code),
		})
	}
}

// Poll maneja GET /mobile/poll/{challenge}.
func (c *Controller) Poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := c.svc.Poll(ctx, chi.URLParam(r, "challenge"))
	if err != nil {
		if errors.Is(err, login.ErrInvalidChallenge) {
			httperrors.WriteErrorCtx(ctx, w, err)
			return
		}
		logger.From(ctx).Warn("poll failed", logger.Layer("controller"), logger.Err(err))
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrBackendUnreachable.WithCause(err))
		return
	}

	resp := dto.PollResponse{Status: string(res.Status), Error: res.Error}
	if res.Status == sessionstore.StatusCompleted && res.Session != nil {
		resp.Token = res.Session.Token
		u := res.Session.User
		resp.User = &u
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// GoogleToken maneja POST /mobile/google/token, /exchange-mobile-token y
// /desktop/google/token: canje PKCE con el verifier de la app.
func (c *Controller) GoogleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.CodeExchangeRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if req.Code == "" || req.CodeVerifier == "" || req.RedirectURI == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrMissingFields.WithDetail("code, codeVerifier and redirectUri are required"))
		return
	}
	sess, err := c.svc.ExchangeCode(ctx, auth.ProviderGoogle, oauth.ExchangeRequest{
		Code:        req.Code,
		Verifier:    req.CodeVerifier,
		RedirectURI: req.RedirectURI,
		ClientID:    req.ClientID,
	})
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewSessionResponse(sess))
}

// AppleToken maneja POST /mobile/apple/token.
func (c *Controller) AppleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dto.AppleTokenRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IdentityToken) == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrMissingFields.WithDetail("identityToken is required"))
		return
	}
	sess, err := c.svc.SignInWithIDToken(ctx, auth.ProviderApple, req.IdentityToken, login.Names{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httperrors.WriteErrorCtx(ctx, w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewSessionResponse(sess))
}

// FacebookToken maneja POST /mobile/facebook/token. El login nativo de
// Facebook no existe todavía; la app usa el flujo web.
func (c *Controller) FacebookToken(w http.ResponseWriter, r *http.Request) {
	httperrors.WriteErrorCtx(r.Context(), w, httperrors.ErrNotImplemented.WithDetail("facebook mobile login"))
}
