package router

import (
	"github.com/go-chi/chi/v5"

	authctrl "github.com/dropDatabas3/beout-auth/internal/http/controllers/auth"
	mobilectrl "github.com/dropDatabas3/beout-auth/internal/http/controllers/mobile"
	oauthctrl "github.com/dropDatabas3/beout-auth/internal/http/controllers/oauth"
	mw "github.com/dropDatabas3/beout-auth/internal/http/middlewares"
)

// RegisterHealthRoutes: /healthz, /readyz y /metrics, sin rate limit.
func RegisterHealthRoutes(r chi.Router, d Deps) {
	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.MetricsHandler != nil {
		r.Method("GET", "/metrics", d.MetricsHandler)
	}
}

// RegisterOAuthRoutes: flujo web con redirect y id_token de Google.
func RegisterOAuthRoutes(r chi.Router, d Deps) {
	c := oauthctrl.NewController(d.Login, oauthctrl.Config{
		AppRedirectBase: d.AppRedirectBase,
		SecureCookies:   d.SecureCookies,
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore(), mw.WithSecurityHeaders())
		r.Get("/oauth/{provider}/login", c.Login)
		r.Get("/oauth/{provider}/callback", c.Callback)
		r.With(mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.Rate.Token, KeyFunc: mw.IPOnlyRateKey})).
			Post("/oauth/google/mobile-callback", c.GoogleIDToken)
	})
}

// RegisterMobileRoutes: flujo móvil y canjes directos.
func RegisterMobileRoutes(r chi.Router, d Deps) {
	c := mobilectrl.NewController(d.Login, d.AppScheme)
	tokenLimit := mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.Rate.Token, KeyFunc: mw.IPOnlyRateKey})
	pollLimit := mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.Rate.Poll, KeyFunc: mw.IPPathRateKey})

	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore(), mw.WithSecurityHeaders())

		r.Post("/mobile/session", c.Session)
		r.Get("/mobile/start", c.Start)
		r.With(pollLimit).Get("/mobile/poll/{challenge}", c.Poll)

		r.Group(func(r chi.Router) {
			r.Use(tokenLimit)
			r.Post("/mobile/google/token", c.GoogleToken)
			r.Post("/exchange-mobile-token", c.GoogleToken)
			r.Post("/desktop/google/token", c.GoogleToken)
			r.Post("/mobile/apple/token", c.AppleToken)
			r.Post("/mobile/facebook/token", c.FacebookToken)
		})
	})

	// Página HTML: CSP propia para el <script> del deep link.
	r.With(mw.WithNoStore(), mw.WithPageSecurityHeaders()).Get("/mobile/google/callback", c.Callback)
}

// RegisterAuthRoutes: rutas con sesión.
func RegisterAuthRoutes(r chi.Router, d Deps) {
	me := authctrl.NewMeController(d.Login)
	r.With(mw.WithNoStore(), mw.WithSecurityHeaders(), mw.RequireSession(d.Sessions)).Get("/auth/me", me.Me)
}
