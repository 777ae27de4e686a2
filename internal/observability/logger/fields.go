package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// Dominio

func UserID(v string) zap.Field   { return zap.String("user_id", v) }
func Provider(v string) zap.Field { return zap.String("provider", v) }
func Flow(v string) zap.Field     { return zap.String("flow", v) }
func Outcome(v string) zap.Field  { return zap.String("outcome", v) }

// Email agrega el email enmascarado (nunca el valor crudo).
func Email(v string) zap.Field { return zap.String("email", MaskEmail(v)) }

// Challenge agrega el fingerprint de una clave del session store o de un state.
func Challenge(v string) zap.Field { return zap.String("challenge_fp", Fingerprint(v)) }

// Sistema

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// Genéricos

func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Any(k string, v any) zap.Field   { return zap.Any(k, v) }

// MaskEmail deja la primera letra del local-part y el dominio: "j***@example.com".
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// Fingerprint returns the first 8 hex chars of sha256(v), enough to correlate
// log lines without leaking the secret value.
func Fingerprint(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:4])
}
