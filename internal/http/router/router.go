// Package router arma el chi.Router con todas las rutas del servicio.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/beout-auth/internal/http/controllers/health"
	httperrors "github.com/dropDatabas3/beout-auth/internal/http/errors"
	mw "github.com/dropDatabas3/beout-auth/internal/http/middlewares"
	"github.com/dropDatabas3/beout-auth/internal/login"
	"github.com/dropDatabas3/beout-auth/internal/rate"
)

// Deps contiene todo lo que necesitan las rutas.
type Deps struct {
	Login    login.Service
	Sessions mw.SessionVerifier
	Health   *health.Controller

	// MetricsHandler sirve /metrics; nil lo omite.
	MetricsHandler http.Handler
	// Metrics instrumenta cada request; nil lo omite.
	Metrics mw.Middleware

	Rate        rate.Set
	CORSOrigins []string

	AppRedirectBase string
	AppScheme       string
	SecureCookies   bool
}

// New crea el router raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	global := []func(http.Handler) http.Handler{
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
	}
	if d.Metrics != nil {
		global = append(global, d.Metrics)
	}
	global = append(global, mw.WithCORS(d.CORSOrigins))
	r.Use(global...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteErrorCtx(r.Context(), w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteErrorCtx(r.Context(), w, httperrors.ErrMethodNotAllowed)
	})

	RegisterHealthRoutes(r, d)
	RegisterOAuthRoutes(r, d)
	RegisterMobileRoutes(r, d)
	RegisterAuthRoutes(r, d)
	return r
}
