// Package oauth contiene los clientes authorization-code de cada provider
// (Google, Facebook) y la política de redirect URIs / client ids aceptados.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"golang.org/x/oauth2"
)

// AuthOptions ajusta la URL de autorización.
type AuthOptions struct {
	Challenge   string // S256; vacío = sin PKCE
	RedirectURI string // vacío = el configurado
	Nonce       string
	Prompt      string // vacío = default del provider
}

// ExchangeRequest es el cuerpo de un canje de código.
type ExchangeRequest struct {
	Code        string
	Verifier    string
	RedirectURI string
	ClientID    string // vacío = el client web
}

// Client es un provider OAuth2 authorization-code.
type Client interface {
	Name() auth.Provider
	AuthCodeURL(state string, opts AuthOptions) string
	Exchange(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error)
	UserInfo(ctx context.Context, tok *oauth2.Token) (*auth.Assertion, error)
}

// ProviderError es una respuesta no-2xx del provider. Body se loguea del lado
// servidor y nunca se devuelve al cliente.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider responded %d", e.Status)
}

// Registry indexa clientes por provider.
type Registry map[auth.Provider]Client

// Register agrega c (nil se ignora).
func (r Registry) Register(c Client) {
	if c != nil {
		r[c.Name()] = c
	}
}

// Get devuelve el cliente o false si el provider no está configurado.
func (r Registry) Get(p auth.Provider) (Client, bool) {
	c, ok := r[p]
	return c, ok
}

const defaultHTTPTimeout = 10 * time.Second

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// withHTTPClient hace que x/oauth2 use hc para el token endpoint.
func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// exchangeError normaliza errores de x/oauth2 a ErrTokenExchangeFailed.
func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("%w: %w", auth.ErrTokenExchangeFailed, &ProviderError{Status: status, Body: string(re.Body)})
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", auth.ErrTokenExchangeFailed, err)
}
