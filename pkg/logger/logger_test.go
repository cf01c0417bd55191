package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/meter/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("level name", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevelName("warn"))
		log.Info("dropped")
		assert.Empty(t, buf.String())
		log.Warn("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "meter")))
		log.Info("msg")
		assert.Equal(t, "meter", decode(t, buf)["svc"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("production logs json with service", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("prod", "meter"), logger.WithOutput(buf))
		log.Debug("hidden")
		log.Info("shown")

		entry := decode(t, buf)
		assert.Equal(t, "meter", entry["service"])
		assert.Equal(t, "prod", entry["env"])
	})

	t.Run("unknown environment falls back to development", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithEnvironment("local", "meter"), logger.WithOutput(buf))
		log.Debug("visible")
		assert.Contains(t, buf.String(), "env=development")
		assert.Contains(t, buf.String(), "level=DEBUG")
	})
}

func TestContextExtractors(t *testing.T) {
	t.Parallel()

	type key struct{}
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
			if v, ok := ctx.Value(key{}).(string); ok {
				return logger.RequestID(v), true
			}
			return slog.Attr{}, false
		}),
	)

	ctx := context.WithValue(context.Background(), key{}, "req-1")
	log.With(logger.Component("usage")).InfoContext(ctx, "msg", logger.Feature("search"), logger.Usage(3, 20))

	entry := decode(t, buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "usage", entry["component"])
	assert.Equal(t, "search", entry["feature"])
	usage, ok := entry["usage"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, usage["count"])
	assert.EqualValues(t, 20, usage["limit"])
}

func TestErrorAttr(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, "error", logger.Error(assert.AnError).Key)
}

func TestNop(t *testing.T) {
	t.Parallel()
	log := logger.Nop()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
