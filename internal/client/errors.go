package client

import (
	"errors"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// Error es lo único que ve la UI: un código de la taxonomía y un mensaje sin
// secretos.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is hace que errors.Is(err, auth.ErrStateMismatch) funcione con un *Error.
func (e *Error) Is(target error) bool {
	code := auth.CodeOf(target)
	return code != auth.CodeInternal && code == e.Code
}

func newError(code string, cause error) *Error {
	return &Error{Code: code, Message: messageFor(code), Err: cause}
}

// CodeOf devuelve el código de cualquier error del cliente.
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return auth.CodeOf(err)
}

func messageFor(code string) string {
	switch code {
	case auth.CodeProviderDenied:
		return "Sign-in was cancelled or denied."
	case auth.CodeInvalidAssertion:
		return "The sign-in provider returned an identity we could not verify."
	case auth.CodeStateMismatch:
		return "The sign-in response did not match this attempt. Please try again."
	case auth.CodeNoBrowserAvailable:
		return "No system browser is available to complete sign-in."
	case auth.CodeTokenExchangeFailed:
		return "The sign-in provider rejected the request."
	case auth.CodeSessionExpired:
		return "Your session has expired. Please sign in again."
	case auth.CodeBackendUnreachable:
		return "Cannot reach the BeOut servers. Check your connection."
	case auth.CodeTimeout:
		return "Sign-in took too long. Please try again."
	}
	return "Something went wrong while signing in."
}

// knownCode reporta si code pertenece a la taxonomía que la UI entiende.
func knownCode(code string) bool {
	switch code {
	case auth.CodeProviderDenied, auth.CodeInvalidAssertion, auth.CodeStateMismatch,
		auth.CodeNoBrowserAvailable, auth.CodeTokenExchangeFailed, auth.CodeSessionExpired,
		auth.CodeBackendUnreachable, auth.CodeTimeout:
		return true
	}
	return false
}
