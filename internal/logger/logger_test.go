package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(context.Background(), expected)
		assert.Equal(t, expected, FromContext(ctx))
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		l := FromContext(context.Background())
		require.NotNil(t, l)
		l.Info("default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), LoggerCtxKey, "not a logger")
		require.NotNil(t, FromContext(ctx))
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		" INFO ":  InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"off":     DisabledLevel,
		"bogus":   InfoLevel,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseLevel(raw), raw)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write text output with fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, TimeFormat: "15:04:05"})
		l.With("component", "index").Info("upsert finished", "chunks", 3)
		out := buf.String()
		assert.Contains(t, out, "upsert finished")
		assert.Contains(t, out, "component")
		assert.Contains(t, out, "index")
	})

	t.Run("Should write JSON when enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true, TimeFormat: "15:04:05"})
		l.Info("json message")
		out := strings.TrimSpace(buf.String())
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Contains(t, out, "json message")
	})

	t.Run("Should respect level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: WarnLevel, Output: &buf, TimeFormat: "15:04:05"})
		l.Info("hidden")
		l.Warn("visible")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})
}

func TestIsTestEnvironment(t *testing.T) {
	assert.True(t, IsTestEnvironment())
}
