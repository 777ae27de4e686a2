package errors

import (
	"fmt"
	"net/http"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// AppError es el error estándar de la API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New crea un AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithDetail devuelve una copia con detail (nunca secretos).
func (e *AppError) WithDetail(detail string) *AppError {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause devuelve una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

// Taxonomía de login: los mismos códigos que ve la app.

var (
	ErrProviderDenied = &AppError{
		Code:       auth.CodeProviderDenied,
		Message:    "El proveedor rechazó o canceló el inicio de sesión.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidAssertion = &AppError{
		Code:       auth.CodeInvalidAssertion,
		Message:    "La credencial del proveedor no es válida.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrStateMismatch = &AppError{
		Code:       auth.CodeStateMismatch,
		Message:    "El estado del inicio de sesión no coincide.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrTokenExchangeFailed = &AppError{
		Code:       auth.CodeTokenExchangeFailed,
		Message:    "No se pudo canjear el código con el proveedor.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrSessionExpired = &AppError{
		Code:       auth.CodeSessionExpired,
		Message:    "La sesión de inicio expiró. Volvé a intentarlo.",
		HTTPStatus: http.StatusGone,
	}

	ErrBackendUnreachable = &AppError{
		Code:       auth.CodeBackendUnreachable,
		Message:    "No pudimos completar el login ahora. Probá de nuevo en un momento.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// Errores genéricos de la API. Los códigos en mayúsculas son los que ya
// consumen los clientes web; not_implemented sigue el formato de la taxonomía.
var (
	ErrBadRequest           = New(http.StatusBadRequest, "BAD_REQUEST", "Solicitud inválida.")
	ErrInvalidJSON          = New(http.StatusBadRequest, "INVALID_JSON", "El body no es JSON válido.")
	ErrMissingFields        = New(http.StatusBadRequest, "MISSING_FIELDS", "Faltan campos obligatorios.")
	ErrInvalidParameter     = New(http.StatusBadRequest, "INVALID_PARAMETER", "Parámetro inválido.")
	ErrUnsupportedMediaType = New(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Se espera Content-Type application/json.")
	ErrBodyTooLarge         = New(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "El body supera el máximo de 1MB.")

	ErrTokenMissing = New(http.StatusUnauthorized, "TOKEN_MISSING", "Falta el header Authorization: Bearer.")
	ErrTokenInvalid = New(http.StatusUnauthorized, "TOKEN_INVALID", "Token de sesión inválido.")
	ErrTokenExpired = New(http.StatusUnauthorized, "TOKEN_EXPIRED", "Token de sesión vencido.")

	ErrNotFound          = New(http.StatusNotFound, "NOT_FOUND", "Ruta o recurso inexistente.")
	ErrUserNotFound      = New(http.StatusNotFound, "USER_NOT_FOUND", "Usuario inexistente.")
	ErrMethodNotAllowed  = New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método no permitido.")
	ErrConflict          = New(http.StatusConflict, "CONFLICT", "El challenge ya fue usado.")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Demasiadas solicitudes; reintentá en unos segundos.")

	ErrInternalServerError = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Error interno.")
	ErrNotImplemented      = New(http.StatusNotImplemented, "not_implemented", "Login con este proveedor todavía no está disponible en la app.")
	ErrServiceUnavailable  = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Servicio no disponible.")
)
