package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/metrics"
	gocache "github.com/patrickmn/go-cache"
)

// Memory is a single-process store on go-cache. go-cache evicts by TTL on its
// own janitor; mu makes every check-then-mutate sequence atomic.
type Memory struct {
	mu   sync.Mutex
	c    *gocache.Cache
	opts options
}

var _ Store = (*Memory)(nil)

// NewMemory crea un store en memoria.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		c:    gocache.New(o.ttl, time.Minute),
		opts: o,
	}
}

// lookup devuelve una copia del record vivo. Llamar con mu tomado.
func (m *Memory) lookup(key string) (*Record, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	rec, ok := v.(Record)
	if !ok {
		m.c.Delete(key)
		return nil, false
	}
	if m.opts.aged(&rec) {
		m.c.Delete(key)
		metrics.SessionEvent("expired")
		return nil, false
	}
	return &rec, true
}

func (m *Memory) put(rec *Record) {
	ttl := m.opts.remaining(rec)
	if ttl <= 0 {
		m.c.Delete(rec.ChallengeKey)
		return
	}
	m.c.Set(rec.ChallengeKey, *rec, ttl)
}

func (m *Memory) Create(_ context.Context, rec Record) error {
	if rec.ChallengeKey == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.lookup(rec.ChallengeKey); ok {
		if cur.Status.Terminal() {
			return ErrExists
		}
		// Pending: se completa lo que falte (p.ej. el verifier al llegar a /mobile/start).
		if cur.ProviderVerifier == "" && rec.ProviderVerifier != "" {
			cur.ProviderVerifier = rec.ProviderVerifier
		}
		if cur.SessionID == "" {
			cur.SessionID = rec.SessionID
		}
		m.put(cur)
		return nil
	}

	rec.Status = StatusPending
	rec.Result, rec.Error = nil, ""
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.opts.now().UTC()
	}
	m.put(&rec)
	metrics.SessionEvent("created")
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Claim(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Claimed || rec.Status.Terminal() {
		return nil, ErrAlreadyClaimed
	}
	rec.Claimed = true
	m.put(rec)
	return rec, nil
}

func (m *Memory) Complete(_ context.Context, key string, sess auth.Session) error {
	return m.finish(key, func(r *Record) {
		r.Status = StatusCompleted
		s := sess
		r.Result = &s
	}, "completed")
}

func (m *Memory) Fail(_ context.Context, key string, reason string) error {
	return m.finish(key, func(r *Record) {
		r.Status = StatusError
		r.Error = reason
	}, "failed")
}

func (m *Memory) finish(key string, apply func(*Record), event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookup(key)
	if !ok {
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	apply(rec)
	rec.ProviderVerifier = ""
	m.put(rec)
	metrics.SessionEvent(event)
	return nil
}

func (m *Memory) Poll(_ context.Context, key string) (PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookup(key)
	if !ok {
		return PollResult{Status: StatusExpired}, nil
	}
	if !rec.Status.Terminal() {
		return PollResult{Status: StatusPending}, nil
	}
	m.c.Delete(key)
	metrics.SessionEvent("delivered")
	return toPollResult(rec), nil
}

func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, it := range m.c.Items() {
		rec, ok := it.Object.(Record)
		if !ok || m.opts.aged(&rec) {
			m.c.Delete(k)
			n++
		}
	}
	m.c.DeleteExpired()
	if n > 0 {
		metrics.OAuthSessionEvents.WithLabelValues("expired").Add(float64(n))
	}
	return n, nil
}

// Len devuelve la cantidad de records vivos (incluye los que esperan sweep).
func (m *Memory) Len() int { return m.c.ItemCount() }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
