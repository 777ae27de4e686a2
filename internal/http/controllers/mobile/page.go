package mobile

import (
	_ "embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

//go:embed result.html
var resultHTML string

var resultPage = template.Must(template.New("result").Parse(resultHTML))

type pageData struct {
	OK       bool
	Title    string
	Message  string
	DeepLink template.URL
}

// deepLink arma <scheme>://oauth/complete?state=...[&error=...].
// El scheme viene de config, nunca del request.
func deepLink(scheme, state, code string) template.URL {
	q := url.Values{}
	q.Set("state", state)
	if code != "" {
		q.Set("error", code)
	}
	return template.URL(scheme + "://oauth/complete?" + q.Encode())
}

func failureMessage(code string) string {
	switch code {
	case auth.CodeProviderDenied:
		return "Sign-in was cancelled or denied by Google."
	case auth.CodeStateMismatch:
		return "OAuth session not found or expired."
	case auth.CodeSessionExpired:
		return "The sign-in session expired before it could be completed."
	case auth.CodeTokenExchangeFailed:
		return "Google did not accept the authorization code."
	case auth.CodeInvalidAssertion:
		return "Google returned an account we could not verify."
	}
	return "An unexpected error occurred."
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, data); err != nil {
		logger.From(r.Context()).Error("render result page", logger.Layer("controller"), logger.Err(err))
	}
}
