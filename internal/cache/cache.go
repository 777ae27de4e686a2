// Package cache es un key/value efímero con TTL y backend memory o Redis.
//
// Lo usa el flujo web para guardar state→verifier entre el redirect al
// provider y el callback. Take lee y borra en un paso: cada state se consume
// una sola vez.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) (string, error)
	// Set guarda un valor; ttl 0 usa el default del backend.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take obtiene y elimina atómicamente.
	Take(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config para New.
type Config struct {
	Driver     string // "memory" | "redis"
	Prefix     string
	DefaultTTL time.Duration
	// Redis se usa si Driver == "redis"; el caller es dueño de la conexión
	// solo si la creó él (Close cierra el cliente).
	Redis redis.UniversalClient
}

// ErrNotFound se devuelve cuando la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// New crea un cliente según cfg.Driver.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("cache: redis driver without client")
		}
		return NewRedis(cfg.Redis, cfg.Prefix, cfg.DefaultTTL), nil
	default:
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
