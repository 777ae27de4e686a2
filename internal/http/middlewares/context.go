package middlewares

import (
	"context"

	"github.com/dropDatabas3/beout-auth/internal/jwt"
)

type ctxKey string

const (
	ctxClaimsKey    ctxKey = "claims"
	ctxUserIDKey    ctxKey = "user_id"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithClaims inyecta las claims de sesión verificadas.
func WithClaims(ctx context.Context, c *jwt.SessionClaims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, c)
}

// WithUserID inyecta el user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, id)
}

// GetClaims devuelve nil si RequireSession no corrió.
func GetClaims(ctx context.Context) *jwt.SessionClaims {
	c, _ := ctx.Value(ctxClaimsKey).(*jwt.SessionClaims)
	return c
}

// GetUserID devuelve "" fuera de rutas autenticadas.
func GetUserID(ctx context.Context) string {
	s, _ := ctx.Value(ctxUserIDKey).(string)
	return s
}

// GetRequestID devuelve el request id o "".
func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestIDKey).(string)
	return s
}
