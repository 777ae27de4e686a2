package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configura el logger.
type Config struct {
	Env         string // "prod" => JSON; cualquier otro valor => consola
	Level       string // debug | info | warn | error
	ServiceName string
	Version     string
}

func (c Config) prod() bool { return strings.EqualFold(strings.TrimSpace(c.Env), "prod") }

func (c Config) zapConfig() zap.Config {
	if c.prod() {
		zc := zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zc
	}
	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return zc
}

func build(cfg Config) *zap.Logger {
	zc := cfg.zapConfig()
	zc.Level = zap.NewAtomicLevelAt(levelOf(cfg.Level))
	zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var base []zap.Field
	if cfg.ServiceName != "" {
		base = append(base, zap.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		base = append(base, zap.String("version", cfg.Version))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1), zap.Fields(base...)}
	if cfg.prod() {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zc.Build(opts...)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// levelOf acepta los nombres de zap más "warning"; lo desconocido cae en info.
func levelOf(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
