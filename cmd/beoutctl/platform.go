package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/client"
)

// systemBrowser devuelve nil si no hay forma de abrir un browser: el
// orquestador lo trata como no_browser_available.
func systemBrowser() func(ctx context.Context, u string) error {
	var name string
	var pre []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name, pre = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil
	}
	return func(ctx context.Context, u string) error {
		fmt.Fprintf(os.Stderr, "Abriendo el browser en %s\n", u)
		return exec.CommandContext(ctx, bin, append(pre, u)...).Start()
	}
}

// loopback recibe deep links reenviados a http://127.0.0.1:<port>/ y los
// publica en el hub. Acepta ?url=<deep link> o la query del deep link directa.
type loopback struct {
	ln  net.Listener
	srv *http.Server
}

func listenLoopback(ctx context.Context, hub *client.Hub) (*loopback, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("loopback: %w", err)
	}
	lb := &loopback{
		ln: ln,
		srv: &http.Server{
			Handler:           loopbackHandler(hub),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		},
	}
	go func() {
		if err := lb.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "loopback:", err)
		}
	}()
	return lb, nil
}

func (l *loopback) URL() string { return "http://" + l.ln.Addr().String() + "/" }

func (l *loopback) Close() error { return l.srv.Close() }

func loopbackHandler(hub *client.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := deepLinkFromRequest(r.URL)
		if !ok {
			http.Error(w, "missing deep link", http.StatusBadRequest)
			return
		}
		hub.Publish(raw)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("BeOut: ya podés volver a la terminal.\n"))
	})
}

func deepLinkFromRequest(u *url.URL) (string, bool) {
	q := u.Query()
	if raw := q.Get("url"); raw != "" {
		if _, err := client.ParseDeepLink(raw); err != nil {
			return "", false
		}
		return raw, true
	}
	raw := "beoutctl://oauth/complete?" + u.RawQuery
	if _, err := client.ParseDeepLink(raw); err != nil {
		return "", false
	}
	return raw, true
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
