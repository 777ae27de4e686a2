package middlewares

import (
	"errors"
	"net/http"

	httperrors "github.com/dropDatabas3/beout-auth/internal/http/errors"
	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	"github.com/dropDatabas3/beout-auth/internal/jwt"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// SessionVerifier valida un token de sesión (jwt.SessionIssuer).
type SessionVerifier interface {
	Verify(raw string) (*jwt.SessionClaims, error)
}

// RequireSession exige un Bearer de sesión válido y deja claims y user id en el contexto.
func RequireSession(v SessionVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := helpers.BearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="beout"`)
				httperrors.WriteErrorCtx(r.Context(), w, httperrors.ErrTokenMissing)
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				desc := "invalid"
				if errors.Is(err, jwt.ErrExpiredToken) {
					desc = "expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="beout", error="invalid_token", error_description="`+desc+`"`)
				httperrors.WriteErrorCtx(r.Context(), w, httperrors.ErrTokenInvalid.WithCause(err))
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = WithUserID(ctx, claims.UserID)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(claims.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
