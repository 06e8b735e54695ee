package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestFromContext_IncludesBatchID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	defer slog.SetDefault(prev)

	ctx := WithBatchID(context.Background(), "labs-2024-01")
	WithFields(ctx, "file", "labs_2020.csv").Info("file ingested")

	out := buf.String()
	assert.Contains(t, out, "batch_id=labs-2024-01")
	assert.Contains(t, out, "file=labs_2020.csv")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "json").Debug("hello", "k", "v")

	assert.True(t, strings.HasPrefix(buf.String(), "{"), "expected JSON output, got %q", buf.String())
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestBatchIDFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", BatchIDFromContext(context.Background()))
}
