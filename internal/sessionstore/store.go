// Package sessionstore keeps in-flight mobile login attempts keyed by an
// unguessable challenge key until the client collects the result.
//
// Un record nace pending, recibe exactamente una transición terminal
// (completed o error) y se entrega a un único poll, que lo borra en la misma
// operación. Pasado el TTL el record cuenta como expirado sin importar su estado.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
)

// DefaultTTL aplica a todos los records, sin importar el estado.
const DefaultTTL = 10 * time.Minute

// Status of a record, plus StatusExpired which is only ever reported by Poll.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s is completed or error.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// Record is one login attempt.
type Record struct {
	ChallengeKey string        `json:"challengeKey"`
	SessionID    string        `json:"sessionId,omitempty"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	Result       *auth.Session `json:"result,omitempty"`
	Error        string        `json:"error,omitempty"`
	// ProviderVerifier es el verifier PKCE del tramo backend↔provider. Poll nunca lo devuelve.
	ProviderVerifier string `json:"providerVerifier,omitempty"`
	// Claimed: un callback ya está canjeando este record. Sigue pending para Poll.
	Claimed bool `json:"-"`
}

// PollResult es lo que recibe el cliente.
type PollResult struct {
	Status  Status        `json:"status"`
	Session *auth.Session `json:"-"`
	Error   string        `json:"error,omitempty"`
}

var (
	ErrNotFound        = errors.New("sessionstore: record not found or expired")
	ErrAlreadyTerminal = errors.New("sessionstore: record already has a terminal status")
	ErrExists          = errors.New("sessionstore: key already used by a finished attempt")
	ErrInvalidKey      = errors.New("sessionstore: empty challenge key")
	ErrAlreadyClaimed  = errors.New("sessionstore: record already claimed by another callback")
)

// Store is injected into handlers; there is no package-level instance.
type Store interface {
	// Create registers a pending record. Creating an existing pending key is a
	// no-op; reusing a terminal key fails with ErrExists.
	Create(ctx context.Context, rec Record) error
	// Get returns a live record without mutating it.
	Get(ctx context.Context, key string) (*Record, error)
	// Claim marks a pending record as taken by one callback and returns it.
	// Only the first caller wins; later ones get ErrAlreadyClaimed.
	Claim(ctx context.Context, key string) (*Record, error)
	// Complete and Fail perform the single terminal transition.
	Complete(ctx context.Context, key string, sess auth.Session) error
	Fail(ctx context.Context, key string, reason string) error
	// Poll reports pending, or delivers and deletes a terminal record atomically.
	// Unknown and aged-out keys report StatusExpired.
	Poll(ctx context.Context, key string) (PollResult, error)
	// Sweep drops aged-out records and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Option configura un store.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) aged(rec *Record) bool {
	return !o.now().Before(rec.CreatedAt.Add(o.ttl))
}

func (o options) remaining(rec *Record) time.Duration {
	return rec.CreatedAt.Add(o.ttl).Sub(o.now())
}

func toPollResult(rec *Record) PollResult {
	return PollResult{Status: rec.Status, Session: rec.Result, Error: rec.Error}
}
