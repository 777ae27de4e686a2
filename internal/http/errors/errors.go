// Package errors define AppError y el mapeo de errores de dominio a HTTP.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/identity"
	jwtx "github.com/dropDatabas3/beout-auth/internal/jwt"
	"github.com/dropDatabas3/beout-auth/internal/login"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/sessionstore"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe err como JSON. Los 5xx se loguean con la causa.
func WriteError(w http.ResponseWriter, err error) {
	writeError(context.Background(), w, err)
}

// WriteErrorCtx es WriteError con el logger del request.
func WriteErrorCtx(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(ctx, w, err)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := FromError(err)
	if appErr.HTTPStatus >= 500 {
		logger.From(ctx).Error("request failed",
			logger.Layer("http"),
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// FromError mapea errores de dominio; lo desconocido es 500 con la causa adjunta.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case err == nil:
		return ErrInternalServerError
	case stderrors.Is(err, auth.ErrProviderDenied):
		return ErrProviderDenied.WithCause(err)
	case stderrors.Is(err, auth.ErrInvalidAssertion):
		return ErrInvalidAssertion.WithCause(err)
	case stderrors.Is(err, auth.ErrStateMismatch):
		return ErrStateMismatch.WithCause(err)
	case stderrors.Is(err, auth.ErrTokenExchangeFailed):
		return ErrTokenExchangeFailed.WithCause(err)
	case stderrors.Is(err, auth.ErrSessionExpired):
		return ErrSessionExpired.WithCause(err)
	case stderrors.Is(err, auth.ErrBackendUnreachable), stderrors.Is(err, auth.ErrStorageUnavailable):
		return ErrBackendUnreachable.WithCause(err)

	case stderrors.Is(err, login.ErrUnsupportedProvider):
		return ErrNotFound.WithDetail("provider not configured").WithCause(err)
	case stderrors.Is(err, login.ErrMissingCode):
		return ErrMissingFields.WithDetail("code is required").WithCause(err)
	case stderrors.Is(err, login.ErrInvalidVerifier):
		return ErrInvalidParameter.WithDetail("codeVerifier is malformed").WithCause(err)
	case stderrors.Is(err, login.ErrRedirectNotAllowed):
		return ErrInvalidParameter.WithDetail("redirectUri not allowed").WithCause(err)
	case stderrors.Is(err, login.ErrClientNotAllowed):
		return ErrInvalidParameter.WithDetail("clientId not allowed").WithCause(err)
	case stderrors.Is(err, login.ErrInvalidChallenge):
		return ErrInvalidParameter.WithDetail("challenge is malformed").WithCause(err)
	case stderrors.Is(err, login.ErrChallengeUsed):
		return ErrConflict.WithDetail("challenge already used").WithCause(err)

	case stderrors.Is(err, identity.ErrNotFound):
		return ErrUserNotFound.WithCause(err)
	case stderrors.Is(err, jwtx.ErrExpiredToken):
		return ErrTokenExpired.WithCause(err)
	case stderrors.Is(err, jwtx.ErrInvalidToken):
		return ErrTokenInvalid.WithCause(err)
	case stderrors.Is(err, sessionstore.ErrNotFound):
		return ErrSessionExpired.WithCause(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}
