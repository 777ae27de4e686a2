// Package credcache persiste las credenciales de sesión del cliente en capas:
// un archivo cifrado (secure), una copia base64 (obfuscated) y JSON plano
// (plain). Se escribe la capa más alta disponible y se lee en orden.
package credcache

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	// Version del formato guardado.
	Version = "1.0"
	// MaxAge es la expiración blanda de unas credenciales guardadas.
	MaxAge = 30 * 24 * time.Hour

	KeySecure     = "beout_secure_credentials"
	KeyPlain      = "beout_credentials"
	KeyRememberMe = "beout_remember_me"
	// KeyClearedAt guarda el último Clear (unix ms). Lo anterior no se lee más.
	KeyClearedAt = "beout_cleared_at"

	sealedName = "beout_credentials.sealed"
	kvName     = "beout_store.json"
)

// Layer identifica dónde quedaron guardadas las credenciales.
type Layer string

const (
	LayerNone       Layer = ""
	LayerSecure     Layer = "secure"
	LayerObfuscated Layer = "obfuscated"
	LayerPlain      Layer = "plain"
)

// Credentials es lo que se guarda después de un login.
type Credentials struct {
	Token     string          `json:"token"`
	User      auth.PublicUser `json:"user"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Version   string          `json:"version"`
}

// Config del cache.
type Config struct {
	// Dir donde viven los archivos (p.ej. ~/.config/beout).
	Dir string
	// DeviceSecret habilita la capa cifrada. Vacío = sin capa secure.
	DeviceSecret []byte
	Now          func() time.Time
	Logger       *zap.Logger
}

type kvStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}

// Cache implementa el almacenamiento por capas.
type Cache struct {
	sealed *sealedFile
	kv     kvStore
	now    func() time.Time
	log    *zap.Logger

	mu        sync.Mutex
	clearedAt int64 // copia en proceso de KeyClearedAt, por si el kv no se puede escribir
}

// New crea el cache. No toca el disco hasta el primer uso.
func New(cfg Config) *Cache {
	c := &Cache{
		sealed: &sealedFile{path: filepath.Join(cfg.Dir, sealedName), secret: append([]byte(nil), cfg.DeviceSecret...)},
		kv:     &kvFile{path: filepath.Join(cfg.Dir, kvName)},
		now:    cfg.Now,
		log:    cfg.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logger.L()
	}
	c.log = c.log.With(logger.Component("credcache"))
	return c
}

// Store guarda c en la capa más alta que funcione. Las fallas se loguean
// como storage_unavailable y se degrada a la capa siguiente; nunca se devuelven.
// Devuelve la capa usada (LayerNone si fallaron todas).
func (c *Cache) Store(cred Credentials) Layer {
	if cred.Timestamp == 0 {
		cred.Timestamp = c.now().UnixMilli()
	}
	if floor := c.clearedFloor(); cred.Timestamp <= floor {
		cred.Timestamp = floor + 1
	}
	if cred.Version == "" {
		cred.Version = Version
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		c.warn("marshal", err)
		return LayerNone
	}

	if c.sealed.available() {
		err := c.sealed.Write(raw)
		if err == nil {
			c.dropKV(KeySecure, KeyPlain)
			return LayerSecure
		}
		c.warn("secure layer", err)
	}

	err = c.kv.Set(KeySecure, base64.StdEncoding.EncodeToString(raw))
	if err == nil {
		c.dropKV(KeyPlain)
		return LayerObfuscated
	}
	c.warn("obfuscated layer", err)

	if err := c.kv.Set(KeyPlain, string(raw)); err != nil {
		c.warn("plain layer", err)
		return LayerNone
	}
	return LayerPlain
}

func (c *Cache) dropKV(keys ...string) {
	if err := c.kv.Delete(keys...); err != nil {
		c.warn("cleanup", err)
	}
}

func (c *Cache) warn(layer string, err error) {
	c.log.Warn("credential storage degraded",
		logger.String("code", "storage_unavailable"),
		logger.String("layer", layer),
		logger.Err(err),
	)
}

// GetStored lee las capas en orden. Devuelve nil si no hay nada válido o si
// las credenciales superan MaxAge (en ese caso limpia todo). Lo guardado antes
// del último Clear se ignora aunque siga en disco.
func (c *Cache) GetStored() *Credentials {
	floor := c.clearedFloor()
	for _, read := range []func() ([]byte, error){c.readSecure, c.readObfuscated, c.readPlain} {
		raw, err := read()
		if err != nil || len(raw) == 0 {
			continue
		}
		var cred Credentials
		if err := json.Unmarshal(raw, &cred); err != nil || cred.Token == "" || cred.Timestamp <= floor {
			continue
		}
		if c.expired(cred) {
			c.log.Info("stored credentials expired")
			c.Clear()
			return nil
		}
		return &cred
	}
	return nil
}

func (c *Cache) expired(cred Credentials) bool {
	stored := time.UnixMilli(cred.Timestamp)
	return cred.Timestamp <= 0 || c.now().Sub(stored) > MaxAge
}

func (c *Cache) readSecure() ([]byte, error) {
	if !c.sealed.available() {
		return nil, nil
	}
	return c.sealed.Read()
}

func (c *Cache) readObfuscated() ([]byte, error) {
	v, ok, err := c.kv.Get(KeySecure)
	if err != nil || !ok {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(v)
}

func (c *Cache) readPlain() ([]byte, error) {
	v, ok, err := c.kv.Get(KeyPlain)
	if err != nil || !ok {
		return nil, err
	}
	return []byte(v), nil
}

// Clear borra todas las capas. remember-me se conserva.
func (c *Cache) Clear() {
	at := c.now().UnixMilli()
	c.mu.Lock()
	if at > c.clearedAt {
		c.clearedAt = at
	}
	at = c.clearedAt
	c.mu.Unlock()
	if err := c.kv.Set(KeyClearedAt, strconv.FormatInt(at, 10)); err != nil {
		c.warn("clear marker", err)
	}

	if err := c.sealed.Remove(); err != nil {
		c.warn("clear secure", err)
	}
	c.dropKV(KeySecure, KeyPlain)
}

func (c *Cache) clearedFloor() int64 {
	c.mu.Lock()
	at := c.clearedAt
	c.mu.Unlock()
	if v, ok, err := c.kv.Get(KeyClearedAt); err == nil && ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > at {
			at = n
		}
	}
	return at
}

// SetRememberMe persiste la preferencia del usuario.
func (c *Cache) SetRememberMe(v bool) {
	val := "false"
	if v {
		val = "true"
	}
	if err := c.kv.Set(KeyRememberMe, val); err != nil {
		c.warn("remember me", err)
	}
}

// RememberMe devuelve false si nunca se guardó.
func (c *Cache) RememberMe() bool {
	v, ok, err := c.kv.Get(KeyRememberMe)
	return err == nil && ok && v == "true"
}
