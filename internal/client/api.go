package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// API habla con el backend de auth.
type API struct {
	base string
	hc   *http.Client
}

// NewAPI crea el cliente. hc nil usa un http.Client con timeout de 15s.
func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// PollResponse es el body de /mobile/poll/{challenge}.
type PollResponse struct {
	Status string           `json:"status"`
	Token  string           `json:"token,omitempty"`
	User   *auth.PublicUser `json:"user,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ExchangeParams es un canje PKCE con el verifier del cliente.
type ExchangeParams struct {
	Code        string `json:"code"`
	Verifier    string `json:"codeVerifier"`
	RedirectURI string `json:"redirectUri"`
	ClientID    string `json:"clientId,omitempty"`
}

type sessionBody struct {
	Token     string          `json:"token"`
	ExpiresAt int64           `json:"expiresAt"`
	User      auth.PublicUser `json:"user"`
}

func (b sessionBody) session() *auth.Session {
	s := &auth.Session{Token: b.Token, User: b.User}
	if b.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(b.ExpiresAt, 0)
	}
	return s
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StartURL es la URL que se abre en el browser del sistema.
func (a *API) StartURL(sessionID, challenge string) string {
	q := url.Values{"session": {sessionID}, "challenge": {challenge}}
	return a.base + "/mobile/start?" + q.Encode()
}

// WebLoginURL es el inicio del flujo web.
func (a *API) WebLoginURL(p auth.Provider) string {
	return a.base + "/oauth/" + url.PathEscape(p.String()) + "/login"
}

// RegisterSession pre-registra el intento (POST /mobile/session).
func (a *API) RegisterSession(ctx context.Context, sessionID, challenge string) error {
	body := map[string]string{"session": sessionID, "challenge": challenge}
	return a.do(ctx, http.MethodPost, "/mobile/session", "", body, nil)
}

// Poll consulta el resultado una vez.
func (a *API) Poll(ctx context.Context, challenge string) (PollResponse, error) {
	var out PollResponse
	err := a.do(ctx, http.MethodGet, "/mobile/poll/"+url.PathEscape(challenge), "", nil, &out)
	return out, err
}

// ExchangeCode canjea un code propio del cliente.
func (a *API) ExchangeCode(ctx context.Context, p ExchangeParams) (*auth.Session, error) {
	var out sessionBody
	if err := a.do(ctx, http.MethodPost, "/mobile/google/token", "", p, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

// SignInWithIDToken envía un id_token nativo.
func (a *API) SignInWithIDToken(ctx context.Context, cred NativeCredential) (*auth.Session, error) {
	var (
		path string
		body any
	)
	switch cred.Provider {
	case auth.ProviderGoogle:
		path, body = "/oauth/google/mobile-callback", map[string]string{"idToken": cred.IDToken}
	case auth.ProviderApple:
		path, body = "/mobile/apple/token", map[string]string{
			"identityToken": cred.IDToken,
			"firstName":     cred.FirstName,
			"lastName":      cred.LastName,
		}
	default:
		return nil, fmt.Errorf("client: native sign-in not supported for %s", cred.Provider)
	}
	var out sessionBody
	if err := a.do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return nil, err
	}
	return out.session(), nil
}

// Me devuelve el perfil de la sesión.
func (a *API) Me(ctx context.Context, token string) (*auth.PublicUser, error) {
	var out struct {
		User auth.PublicUser `json:"user"`
	}
	if err := a.do(ctx, http.MethodGet, "/auth/me", token, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (a *API) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return newError(auth.CodeInternal, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return newError(auth.CodeInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(auth.CodeBackendUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		return newError(codeForStatus(resp.StatusCode, eb.Code),
			fmt.Errorf("client: %s %s: status %d (%s)", method, path, resp.StatusCode, eb.Code))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(auth.CodeBackendUnreachable, fmt.Errorf("client: decode %s: %w", path, err))
	}
	return nil
}

func codeForStatus(status int, bodyCode string) string {
	if knownCode(bodyCode) {
		return bodyCode
	}
	switch {
	case status == http.StatusUnauthorized:
		return auth.CodeSessionExpired
	case status == http.StatusTooManyRequests,
		status >= 500 && status != http.StatusNotImplemented:
		return auth.CodeBackendUnreachable
	}
	return auth.CodeInternal
}
