package middlewares

import (
	"net/http"
	"strings"
)

type header struct{ k, v string }

// Comunes a la API JSON y a las páginas del flujo móvil.
var baseSecurity = []header{
	{"Referrer-Policy", "no-referrer"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Cross-Origin-Resource-Policy", "same-site"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
}

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'"
	// La página de resultado móvil lleva <style> y <script> inline.
	pageCSP = "default-src 'none'; style-src 'unsafe-inline'; script-src 'unsafe-inline'; frame-ancestors 'none'; base-uri 'none'"

	hsts = "max-age=15552000; includeSubDomains"
)

func setHeaders(next http.Handler, hs []header) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range hs {
			h.Set(kv.k, kv.v)
		}
		next.ServeHTTP(w, r)
	})
}

// WithNoStore: ninguna respuesta de auth se cachea.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return setHeaders(next, []header{{"Cache-Control", "no-store"}, {"Pragma", "no-cache"}})
	}
}

// WithSecurityHeaders para la API JSON.
func WithSecurityHeaders() Middleware { return withSecurity(apiCSP) }

// WithPageSecurityHeaders para las páginas HTML (start, resultado).
func WithPageSecurityHeaders() Middleware { return withSecurity(pageCSP) }

func withSecurity(csp string) Middleware {
	hs := append(append([]header{}, baseSecurity...), header{"Content-Security-Policy", csp})
	return func(next http.Handler) http.Handler {
		inner := setHeaders(next, hs)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// HSTS solo detrás de TLS (directo o terminado en el proxy).
			if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
				w.Header().Set("Strict-Transport-Security", hsts)
			}
			inner.ServeHTTP(w, r)
		})
	}
}

var corsHeaders = []header{
	{"Access-Control-Allow-Credentials", "true"},
	{"Access-Control-Allow-Methods", "GET,POST,OPTIONS"},
	{"Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID"},
	{"Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After, WWW-Authenticate, Location"},
	{"Access-Control-Max-Age", "600"},
}

func normOrigin(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "/"))
}

// WithCORS refleja el Origin si está en la lista ("*" = cualquiera) y corta
// los preflight con 204.
func WithCORS(allowed []string) Middleware {
	set := make(map[string]struct{}, len(allowed))
	anyOrigin := false
	for _, a := range allowed {
		switch a = normOrigin(a); a {
		case "":
		case "*":
			anyOrigin = true
		default:
			set[a] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/"); origin != "" {
				_, ok := set[strings.ToLower(origin)]
				if ok || anyOrigin {
					h.Set("Access-Control-Allow-Origin", origin)
					for _, kv := range corsHeaders {
						h.Set(kv.k, kv.v)
					}
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
