package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleConfig configura el cliente de Google.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// NativeClientIDs son los client ids iOS/Android/desktop (sin secret).
	NativeClientIDs []string

	// Overrides para tests.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// Google implementa Client.
type Google struct {
	conf        oauth2.Config
	native      map[string]bool
	userInfoURL string
	http        *http.Client
}

var _ Client = (*Google)(nil)

// NewGoogle crea el cliente con scopes openid, email y profile.
func NewGoogle(cfg GoogleConfig) *Google {
	ep := cfg.Endpoint
	if ep.TokenURL == "" {
		ep = google.Endpoint
	}
	g := &Google{
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{"openid", "email", "profile"},
		},
		native:      make(map[string]bool, len(cfg.NativeClientIDs)),
		userInfoURL: cfg.UserInfoURL,
		http:        newHTTPClient(cfg.HTTPClient),
	}
	for _, id := range cfg.NativeClientIDs {
		if id = strings.TrimSpace(id); id != "" && id != cfg.ClientID {
			g.native[id] = true
		}
	}
	if g.userInfoURL == "" {
		g.userInfoURL = googleUserInfoURL
	}
	return g
}

func (g *Google) Name() auth.Provider { return auth.ProviderGoogle }

func (g *Google) AuthCodeURL(state string, o AuthOptions) string {
	conf := g.conf
	if o.RedirectURI != "" {
		conf.RedirectURL = o.RedirectURI
	}
	prompt := o.Prompt
	if prompt == "" {
		prompt = "select_account"
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", prompt),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if o.Challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", o.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if o.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", o.Nonce))
	}
	return conf.AuthCodeURL(state, opts...)
}

// Exchange canjea el código. Con un ClientID nativo no se envía secret.
func (g *Google) Exchange(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
	conf := g.conf
	if req.ClientID != "" && req.ClientID != conf.ClientID {
		if !g.native[req.ClientID] {
			return nil, fmt.Errorf("%w: unknown client id", auth.ErrTokenExchangeFailed)
		}
		conf.ClientID = req.ClientID
		conf.ClientSecret = ""
		conf.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	if req.RedirectURI != "" {
		conf.RedirectURL = req.RedirectURI
	}
	var opts []oauth2.AuthCodeOption
	if req.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.Verifier))
	}
	tok, err := conf.Exchange(withHTTPClient(ctx, g.http), req.Code, opts...)
	if err != nil {
		return nil, exchangeError(err)
	}
	return tok, nil
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// UserInfo consulta el endpoint OIDC userinfo con el access token.
func (g *Google) UserInfo(ctx context.Context, tok *oauth2.Token) (*auth.Assertion, error) {
	var ui googleUserInfo
	if err := getJSON(ctx, g.http, g.userInfoURL, tok, &ui); err != nil {
		return nil, err
	}
	if ui.Sub == "" || ui.Email == "" {
		return nil, fmt.Errorf("%w: google userinfo without sub/email", auth.ErrInvalidAssertion)
	}
	return &auth.Assertion{
		Provider:       auth.ProviderGoogle,
		ProviderUserID: ui.Sub,
		Email:          ui.Email,
		EmailVerified:  ui.EmailVerified,
		DisplayName:    ui.Name,
		GivenName:      ui.GivenName,
		FamilyName:     ui.FamilyName,
		AvatarURL:      ui.Picture,
	}, nil
}

// getJSON hace un GET autenticado con Bearer y decodifica la respuesta.
func getJSON(ctx context.Context, hc *http.Client, url string, tok *oauth2.Token, out any) error {
	if tok == nil || tok.AccessToken == "" {
		return fmt.Errorf("%w: missing access token", auth.ErrTokenExchangeFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %w", auth.ErrTokenExchangeFailed, &ProviderError{Status: resp.StatusCode, Body: string(body)})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode profile: %w", auth.ErrTokenExchangeFailed, err)
	}
	return nil
}
