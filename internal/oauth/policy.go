package oauth

import (
	"net"
	"net/url"
	"strings"
)

// OutOfBandRedirect es el redirect "copy/paste" de clientes de escritorio.
const OutOfBandRedirect = "urn:ietf:wg:oauth:2.0:oob"

// RedirectPolicy decide qué redirect_uri y client_id acepta el canje directo.
// Se chequea antes de cualquier llamada al provider.
type RedirectPolicy struct {
	Exact     []string // callbacks web configurados + ALLOWED_REDIRECT_URIS
	AppScheme string   // ej: com.beout.app
	ClientIDs []string
}

// AllowRedirect acepta: match exacto, el scheme de la app, loopback
// http://127.0.0.1:<port>/... o http://localhost:<port>/..., y OOB.
func (p RedirectPolicy) AllowRedirect(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if raw == OutOfBandRedirect {
		return true
	}
	for _, e := range p.Exact {
		if raw == e {
			return true
		}
	}
	u, err := url.Parse(raw)
	if err != nil || u.User != nil || u.Fragment != "" {
		return false
	}
	if p.AppScheme != "" && strings.EqualFold(u.Scheme, p.AppScheme) {
		return true
	}
	if u.Scheme == "http" {
		host, port, err := net.SplitHostPort(u.Host)
		if err != nil || port == "" {
			return false
		}
		return host == "127.0.0.1" || host == "localhost" || host == "::1"
	}
	return false
}

// AllowClientID acepta vacío (= client web) o uno de los configurados.
func (p RedirectPolicy) AllowClientID(id string) bool {
	if id == "" {
		return true
	}
	for _, c := range p.ClientIDs {
		if id == c {
			return true
		}
	}
	return false
}
