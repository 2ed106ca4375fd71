package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestWithRequestAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := (&Logger{Logger: zap.New(core)}).Named("api").WithRequest("corr-9", "alice")

	log.Info("handled")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "api", entries[0].LoggerName)
		fields := entries[0].ContextMap()
		assert.Equal(t, "corr-9", fields["correlation_id"])
		assert.Equal(t, "alice", fields["user_id"])
	}
}

func TestNewBuildsAtLevel(t *testing.T) {
	log, err := New("error")
	if assert.NoError(t, err) {
		assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
		assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
	}
}
