package client

import (
	"context"
	"errors"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// PlatformKind se resuelve una vez al arrancar.
type PlatformKind string

const (
	KindWeb         PlatformKind = "web"
	KindNativeShell PlatformKind = "nativeShell"
)

var (
	// ErrNoBrowser: el shell no puede abrir un browser del sistema. No hay
	// fallback a webview embebido.
	ErrNoBrowser = errors.New("client: no system browser available")
	// ErrNotSupported: la operación no existe en esta plataforma.
	ErrNotSupported = errors.New("client: operation not supported on this platform")

	// ErrCredentialDenied: el provider nativo no está disponible o no tiene
	// cuentas; se cae al flujo de browser.
	ErrCredentialDenied = errors.New("client: native credential provider denied")
	// ErrCredentialCancelled: el usuario canceló el diálogo nativo.
	ErrCredentialCancelled = errors.New("client: native credential request cancelled")
)

// NativeCredential es lo que entrega un provider nativo (Google/Apple).
type NativeCredential struct {
	Provider  auth.Provider
	IDToken   string
	FirstName string
	LastName  string
}

// CredentialProvider es el diálogo de login nativo del shell.
type CredentialProvider interface {
	SignIn(ctx context.Context, provider auth.Provider) (NativeCredential, error)
}

// DeepLinkSource entrega los URLs con los que el sistema abre la app.
// Subscribe devuelve el canal y la función que libera la suscripción.
type DeepLinkSource interface {
	Subscribe() (<-chan string, func())
}

// PlatformCapabilities reemplaza cualquier detección ad hoc del entorno.
type PlatformCapabilities interface {
	Kind() PlatformKind
	CredentialProvider() (CredentialProvider, bool)
	OpenSystemBrowser(ctx context.Context, url string) error
	DeepLinks() DeepLinkSource
	NavigateTo(url string) error
}

// WebPlatform: el login es un redirect de página completa.
type WebPlatform struct {
	Navigate func(url string) error
}

func (WebPlatform) Kind() PlatformKind                             { return KindWeb }
func (WebPlatform) CredentialProvider() (CredentialProvider, bool) { return nil, false }
func (WebPlatform) OpenSystemBrowser(context.Context, string) error {
	return ErrNoBrowser
}
func (WebPlatform) DeepLinks() DeepLinkSource { return nil }

func (p WebPlatform) NavigateTo(url string) error {
	if p.Navigate == nil {
		return ErrNotSupported
	}
	return p.Navigate(url)
}

// NativeShellPlatform: app de escritorio/móvil con browser del sistema y deep links.
type NativeShellPlatform struct {
	// Browser abre url en el browser del sistema; nil = no hay browser.
	Browser     func(ctx context.Context, url string) error
	Links       DeepLinkSource
	Credentials CredentialProvider
}

func (NativeShellPlatform) Kind() PlatformKind { return KindNativeShell }

func (p NativeShellPlatform) CredentialProvider() (CredentialProvider, bool) {
	return p.Credentials, p.Credentials != nil
}

func (p NativeShellPlatform) OpenSystemBrowser(ctx context.Context, url string) error {
	if p.Browser == nil {
		return ErrNoBrowser
	}
	return p.Browser(ctx, url)
}

func (p NativeShellPlatform) DeepLinks() DeepLinkSource { return p.Links }

func (NativeShellPlatform) NavigateTo(string) error { return ErrNotSupported }
