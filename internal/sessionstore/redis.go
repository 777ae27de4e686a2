package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Cada record es un hash {status, record}. Los scripts Lua hacen atómicas las
// transiciones: una sola escritura terminal y take (leer+borrar) en un paso.
// El TTL de la key es el tiempo restante desde CreatedAt; HSET no lo resetea.

// KEYS[1]=key ARGV[1]=record json ARGV[2]=ttl ms
// 0 creado | 1 ya pending | 2 terminal
var createScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st then
  if st == 'pending' then return 1 end
  return 2
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'record', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 0
`)

// KEYS[1]=key ARGV[1]=status ARGV[2]=record json
// 0 no existe | 1 ok | 2 ya terminal
var finishScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 0 end
if st ~= 'pending' then return 2 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'record', ARGV[2])
return 1
`)

// KEYS[1]=key -> {0} no existe | {2} tomado o terminal | {1, record json}
var claimScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'status', 'record', 'claimed')
if not v[1] then return {0} end
if v[1] ~= 'pending' or v[3] then return {2} end
redis.call('HSET', KEYS[1], 'claimed', '1')
return {1, v[2]}
`)

// KEYS[1]=key -> {status, record} o nil. Borra si es terminal.
var takeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'status', 'record')
if not v[1] then return false end
if v[1] ~= 'pending' then redis.call('DEL', KEYS[1]) end
return v
`)

// Redis es el store compartido entre réplicas.
type Redis struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

var _ Store = (*Redis)(nil)

// NewRedis crea un store sobre un cliente ya conectado. prefix default "beout".
func NewRedis(client redis.UniversalClient, prefix string, opts ...Option) *Redis {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "beout"
	}
	return &Redis{client: client, prefix: prefix + ":oauth:", opts: buildOptions(opts)}
}

func (s *Redis) key(k string) string { return s.prefix + k }

func (s *Redis) Create(ctx context.Context, rec Record) error {
	if rec.ChallengeKey == "" {
		return ErrInvalidKey
	}
	rec.Status = StatusPending
	rec.Result, rec.Error = nil, ""
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	ttl := s.opts.remaining(&rec)
	if ttl <= 0 {
		return ErrNotFound
	}

	res, err := createScript.Run(ctx, s.client, []string{s.key(rec.ChallengeKey)}, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("sessionstore: redis create: %w", err)
	}
	switch res {
	case 0:
		metrics.SessionEvent("created")
		return nil
	case 1:
		return s.mergePending(ctx, rec)
	default:
		return ErrExists
	}
}

// mergePending completa verifier/session en un record pending existente.
func (s *Redis) mergePending(ctx context.Context, rec Record) error {
	if rec.ProviderVerifier == "" && rec.SessionID == "" {
		return nil
	}
	cur, err := s.Get(ctx, rec.ChallengeKey)
	if err != nil {
		return err
	}
	changed := false
	if cur.ProviderVerifier == "" && rec.ProviderVerifier != "" {
		cur.ProviderVerifier = rec.ProviderVerifier
		changed = true
	}
	if cur.SessionID == "" && rec.SessionID != "" {
		cur.SessionID = rec.SessionID
		changed = true
	}
	if !changed {
		return nil
	}
	payload, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	res, err := finishScript.Run(ctx, s.client, []string{s.key(rec.ChallengeKey)}, string(StatusPending), payload).Int()
	if err != nil {
		return fmt.Errorf("sessionstore: redis merge: %w", err)
	}
	if res == 2 {
		return ErrExists
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.HGet(ctx, s.key(key), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: decode: %w", err)
	}
	if s.opts.aged(&rec) {
		_ = s.client.Del(ctx, s.key(key)).Err()
		metrics.SessionEvent("expired")
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *Redis) Claim(ctx context.Context, key string) (*Record, error) {
	vals, err := claimScript.Run(ctx, s.client, []string{s.key(key)}).Slice()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: redis claim: %w", err)
	}
	code, _ := vals[0].(int64)
	switch {
	case code == 0:
		return nil, ErrNotFound
	case code == 2 || len(vals) < 2:
		return nil, ErrAlreadyClaimed
	}
	raw, _ := vals[1].(string)
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("sessionstore: decode: %w", err)
	}
	if s.opts.aged(&rec) {
		_ = s.client.Del(ctx, s.key(key)).Err()
		metrics.SessionEvent("expired")
		return nil, ErrNotFound
	}
	rec.Claimed = true
	return &rec, nil
}

func (s *Redis) Complete(ctx context.Context, key string, sess auth.Session) error {
	return s.finish(ctx, key, func(r *Record) {
		r.Status = StatusCompleted
		r.Result = &sess
	}, "completed")
}

func (s *Redis) Fail(ctx context.Context, key string, reason string) error {
	return s.finish(ctx, key, func(r *Record) {
		r.Status = StatusError
		r.Error = reason
	}, "failed")
}

func (s *Redis) finish(ctx context.Context, key string, apply func(*Record), event string) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	apply(rec)
	rec.ProviderVerifier = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}
	res, err := finishScript.Run(ctx, s.client, []string{s.key(key)}, string(rec.Status), payload).Int()
	if err != nil {
		return fmt.Errorf("sessionstore: redis finish: %w", err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case 2:
		return ErrAlreadyTerminal
	}
	metrics.SessionEvent(event)
	return nil
}

func (s *Redis) Poll(ctx context.Context, key string) (PollResult, error) {
	vals, err := takeScript.Run(ctx, s.client, []string{s.key(key)}).Slice()
	if errors.Is(err, redis.Nil) {
		return PollResult{Status: StatusExpired}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("sessionstore: redis take: %w", err)
	}
	if len(vals) != 2 {
		return PollResult{Status: StatusExpired}, nil
	}
	raw, _ := vals[1].(string)
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return PollResult{}, fmt.Errorf("sessionstore: decode: %w", err)
	}
	if s.opts.aged(&rec) {
		_ = s.client.Del(ctx, s.key(key)).Err()
		metrics.SessionEvent("expired")
		return PollResult{Status: StatusExpired}, nil
	}
	if !rec.Status.Terminal() {
		return PollResult{Status: StatusPending}, nil
	}
	metrics.SessionEvent("delivered")
	return toPollResult(&rec), nil
}

// Sweep no hace nada: Redis expira las keys por TTL.
func (s *Redis) Sweep(context.Context) (int, error) { return 0, nil }

func (s *Redis) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Redis) Close() error { return s.client.Close() }
