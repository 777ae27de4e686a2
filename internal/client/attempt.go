package client

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 5 * time.Minute
)

// Attempt es un login por browser del sistema en curso.
type Attempt struct {
	Key       string
	SessionID string

	// verifier y redirectURI solo existen cuando el cliente es dueño del
	// PKCE; con ellos un deep link con code se canjea directo.
	verifier    string
	redirectURI string
	clientID    string

	api          *API
	links        DeepLinkSource
	sm           *machine
	pollInterval time.Duration
	timeout      time.Duration
	log          *zap.Logger
}

type outcome struct {
	sess *auth.Session
	err  error
}

// Await espera el resultado: deep link, poll, timeout o ctx, lo que llegue
// primero. Al volver no queda ninguna goroutine, ticker ni suscripción viva.
func (a *Attempt) Await(ctx context.Context) (*auth.Session, error) {
	tctx, cancelTimeout := context.WithTimeout(ctx, a.timeout)
	defer cancelTimeout()

	g, gctx := errgroup.WithContext(tctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	var (
		once   sync.Once
		result outcome
		done   bool
	)
	resolve := func(s *auth.Session, err error) {
		once.Do(func() {
			result, done = outcome{sess: s, err: err}, true
			stop()
		})
	}
	pollNow := make(chan struct{}, 1)

	if a.links != nil {
		ch, unsubscribe := a.links.Subscribe()
		defer unsubscribe()
		g.Go(func() error {
			a.deepLinkLoop(gctx, ch, pollNow, resolve)
			return nil
		})
	}
	g.Go(func() error {
		a.pollLoop(gctx, pollNow, resolve)
		return nil
	})
	_ = g.Wait()

	if done {
		return result.sess, result.err
	}
	if err := ctx.Err(); err != nil {
		a.sm.to(StateFailed)
		return nil, err
	}
	a.sm.to(StateTimeout)
	a.log.Warn("login attempt timed out", logger.Outcome(auth.CodeTimeout))
	return nil, newError(auth.CodeTimeout, context.DeadlineExceeded)
}

func (a *Attempt) deepLinkLoop(ctx context.Context, ch <-chan string, pollNow chan<- struct{}, resolve func(*auth.Session, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			dl, err := ParseDeepLink(raw)
			if err != nil {
				a.log.Debug("ignoring deep link", logger.Err(err))
				continue
			}
			a.sm.to(StateDeepLinkReceived)
			if subtle.ConstantTimeCompare([]byte(dl.State), []byte(a.Key)) != 1 {
				resolve(nil, newError(auth.CodeStateMismatch, auth.ErrStateMismatch))
				return
			}
			if dl.Error != "" {
				code := dl.Error
				if !knownCode(code) {
					code = auth.CodeInternal
				}
				resolve(nil, newError(code, nil))
				return
			}
			if dl.Code != "" && a.verifier != "" {
				sess, err := a.api.ExchangeCode(ctx, ExchangeParams{
					Code:        dl.Code,
					Verifier:    a.verifier,
					RedirectURI: a.redirectURI,
					ClientID:    a.clientID,
				})
				if err != nil && ctx.Err() != nil {
					return
				}
				resolve(sess, err)
				return
			}
			select {
			case pollNow <- struct{}{}:
			default:
			}
		}
	}
}

func (a *Attempt) pollLoop(ctx context.Context, pollNow <-chan struct{}, resolve func(*auth.Session, error)) {
	t := time.NewTicker(a.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-pollNow:
		}

		res, err := a.api.Poll(ctx, a.Key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// red caída o 429: se reintenta hasta el timeout
			a.log.Debug("poll failed, retrying", logger.Err(err))
			continue
		}
		switch res.Status {
		case "completed":
			a.sm.to(StatePollingSuccess)
			sess := &auth.Session{Token: res.Token}
			if res.User != nil {
				sess.User = *res.User
			}
			resolve(sess, nil)
			return
		case "error":
			a.sm.to(StatePollingError)
			code := res.Error
			if !knownCode(code) {
				code = auth.CodeInternal
			}
			resolve(nil, newError(code, nil))
			return
		case "expired":
			resolve(nil, newError(auth.CodeSessionExpired, auth.ErrSessionExpired))
			return
		}
	}
}

// IsTimeout reporta si err es el timeout de un Attempt.
func IsTimeout(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == auth.CodeTimeout
}
