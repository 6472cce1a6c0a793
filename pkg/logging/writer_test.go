package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWriterSplitsLines(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	w := NewLoggerWriter(zap.New(core), zap.InfoLevel)

	n, err := w.Write([]byte("first line\nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, 23, n)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "first line", entries[0].Message)
	assert.Equal(t, "second line", entries[1].Message)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
}

func TestLoggerWriterLevelFiltered(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := NewLoggerWriter(zap.New(core), zap.DebugLevel)

	_, err := w.Write([]byte("quiet"))
	require.NoError(t, err)
	assert.Empty(t, logs.All())
}

func TestEntryLeveller(t *testing.T) {
	inner, logs := observer.New(zap.DebugLevel)
	core := NewEntryLeveller(inner, map[string]zapcore.Level{
		"pulumi": zap.WarnLevel,
	})
	logger := zap.New(core)

	logger.Named("pulumi").Info("hidden")
	logger.Named("pulumi").Warn("shown")
	logger.Named("pulumi").Named("preview").Info("hidden too")
	logger.Info("unnamed passes through")

	messages := make([]string, 0, len(logs.All()))
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"shown", "unnamed passes through"}, messages)
}

func TestEntryLevellerFallback(t *testing.T) {
	inner, logs := observer.New(zap.DebugLevel)
	core := NewEntryLeveller(inner, map[string]zapcore.Level{
		"":      zap.ErrorLevel,
		"stack": zap.DebugLevel,
	})
	logger := zap.New(core)

	logger.Named("pulumi").Warn("hidden by the fallback")
	logger.Named("stack").Named("events").Debug("inherits the stack level")
	logger.Info("unnamed ignores logger levels")

	messages := make([]string, 0, len(logs.All()))
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"inherits the stack level", "unnamed ignores logger levels"}, messages)
}
