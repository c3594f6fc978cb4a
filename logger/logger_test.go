package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatConsole, ParseFormat("pretty"))
}

func TestNewHonorsEnvironment(t *testing.T) {
	t.Setenv(EnvLevel, "error")

	log := New("debug", "json")
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestFor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	For(zap.New(core), ComponentStore).Debugw("committed root", "collections", 1)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, ComponentStore, entries[0].LoggerName)
		assert.Equal(t, int64(1), entries[0].ContextMap()["collections"])
	}

	For(nil, ComponentUnitOfWork).Info("discarded")
}
