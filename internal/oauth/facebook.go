package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const facebookGraphURL = "https://graph.facebook.com/v19.0"

// FacebookConfig configura el cliente de Facebook (solo flujo web).
type FacebookConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string

	Endpoint   oauth2.Endpoint
	GraphURL   string
	HTTPClient *http.Client
}

// Facebook implementa Client sobre Graph API.
type Facebook struct {
	conf     oauth2.Config
	graphURL string
	http     *http.Client
}

var _ Client = (*Facebook)(nil)

func NewFacebook(cfg FacebookConfig) *Facebook {
	ep := cfg.Endpoint
	if ep.TokenURL == "" {
		ep = facebook.Endpoint
	}
	f := &Facebook{
		conf: oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{"email", "public_profile"},
		},
		graphURL: cfg.GraphURL,
		http:     newHTTPClient(cfg.HTTPClient),
	}
	if f.graphURL == "" {
		f.graphURL = facebookGraphURL
	}
	return f
}

func (f *Facebook) Name() auth.Provider { return auth.ProviderFacebook }

func (f *Facebook) AuthCodeURL(state string, o AuthOptions) string {
	conf := f.conf
	if o.RedirectURI != "" {
		conf.RedirectURL = o.RedirectURI
	}
	var opts []oauth2.AuthCodeOption
	if o.Challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", o.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if o.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("auth_type", o.Prompt))
	}
	return conf.AuthCodeURL(state, opts...)
}

func (f *Facebook) Exchange(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
	conf := f.conf
	if req.RedirectURI != "" {
		conf.RedirectURL = req.RedirectURI
	}
	var opts []oauth2.AuthCodeOption
	if req.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.Verifier))
	}
	tok, err := conf.Exchange(withHTTPClient(ctx, f.http), req.Code, opts...)
	if err != nil {
		return nil, exchangeError(err)
	}
	return tok, nil
}

type facebookProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// UserInfo lee /me. Sin email (cuenta creada con teléfono) usa
// <id>@facebook.com, no verificado.
func (f *Facebook) UserInfo(ctx context.Context, tok *oauth2.Token) (*auth.Assertion, error) {
	q := url.Values{"fields": {"id,name,email,first_name,last_name,picture"}}
	var p facebookProfile
	if err := getJSON(ctx, f.http, f.graphURL+"/me?"+q.Encode(), tok, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: facebook profile without id", auth.ErrInvalidAssertion)
	}
	a := &auth.Assertion{
		Provider:       auth.ProviderFacebook,
		ProviderUserID: p.ID,
		Email:          p.Email,
		EmailVerified:  p.Email != "",
		DisplayName:    p.Name,
		GivenName:      p.FirstName,
		FamilyName:     p.LastName,
		AvatarURL:      p.Picture.Data.URL,
	}
	if a.Email == "" {
		a.Email = p.ID + "@facebook.com"
	}
	return a, nil
}
