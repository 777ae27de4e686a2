package email

import (
	"bytes"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"
	"time"
)

// LinkNoticeVars alimenta el aviso de nuevo método de inicio de sesión.
type LinkNoticeVars struct {
	Email            string
	NewProvider      string
	PreviousProvider string
	At               time.Time
	SupportURL       string
}

const linkNoticeSubject = "Nuevo método de inicio de sesión en BeOut"

const linkNoticeText = `Hola,

Tu cuenta BeOut ({{.Email}}) ahora inicia sesión con {{.NewProvider}}{{if .PreviousProvider}} (antes: {{.PreviousProvider}}){{end}}.
Fecha: {{.At.Format "2006-01-02 15:04 MST"}}

Si no fuiste vos, escribinos{{if .SupportURL}} en {{.SupportURL}}{{end}}.
`

const linkNoticeHTML = `<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hola,</p>
<p>Tu cuenta BeOut (<b>{{.Email}}</b>) ahora inicia sesión con <b>{{.NewProvider}}</b>{{if .PreviousProvider}} (antes: {{.PreviousProvider}}){{end}}.</p>
<p>Fecha: {{.At.Format "2006-01-02 15:04 MST"}}</p>
<p>Si no fuiste vos, escribinos{{if .SupportURL}} en <a href="{{.SupportURL}}">{{.SupportURL}}</a>{{end}}.</p>
</body></html>`

var (
	linkNoticeTextTpl = texttpl.Must(texttpl.New("link_notice.txt").Parse(linkNoticeText))
	linkNoticeHTMLTpl = htmltpl.Must(htmltpl.New("link_notice.html").Parse(linkNoticeHTML))
)

// RenderLinkNotice arma el Message para to.
func RenderLinkNotice(to string, v LinkNoticeVars) (Message, error) {
	var txt, html bytes.Buffer
	if err := linkNoticeTextTpl.Execute(&txt, v); err != nil {
		return Message{}, fmt.Errorf("email: render text: %w", err)
	}
	if err := linkNoticeHTMLTpl.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("email: render html: %w", err)
	}
	return Message{To: to, Subject: linkNoticeSubject, HTML: html.String(), Text: txt.String()}, nil
}
