package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug, "json")
	t.Cleanup(func() { Init(slog.LevelInfo, "text") })

	ctx := WithTraceID(WithRequestID(context.Background(), "req-1"), "trace-9")
	InfoContext(ctx, "hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "trace-9", line["trace_id"])
	assert.Equal(t, "v", line["k"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelWarn, "text")
	t.Cleanup(func() { Init(slog.LevelInfo, "text") })

	Info("dropped")
	Debug("dropped")
	assert.Zero(t, buf.Len())

	Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
