package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLevelOf(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, levelOf(in), in)
	}
}

func TestBuild_ProdIsJSONWithBaseFields(t *testing.T) {
	cfg := Config{Env: "prod", Level: "debug", ServiceName: "beout-auth", Version: "1.2.3"}
	assert.True(t, cfg.prod())
	assert.Equal(t, "json", cfg.zapConfig().Encoding)

	l := build(cfg)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.Equal(t, "console", Config{}.zapConfig().Encoding)
}
