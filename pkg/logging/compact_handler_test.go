package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCompactHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Info("purge step committed", "step", "Purge unused materials", "progress", 70)

	line := buf.String()
	if !strings.HasPrefix(line, "[INFO]  ") {
		t.Errorf("Expected INFO prefix, got %q", line)
	}
	if !strings.Contains(line, `purge step committed | step="Purge unused materials" progress=70`) {
		t.Errorf("Unexpected attribute formatting: %q", line)
	}
}

func TestCompactHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, nil)).With("component", "maint")

	log.Warn("skipped stale entity", "error", errors.New("gone"))

	line := buf.String()
	if !strings.Contains(line, "| [maint] error=") {
		t.Errorf("Expected bound component before record attrs, got %q", line)
	}
}

func TestCompactHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewCompactHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Error should be enabled at warn level")
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      slog.Level
	}{
		{0, slog.LevelInfo},
		{1, slog.LevelDebug},
		{2, LevelTrace},
		{5, LevelTrace},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "0123456789abcdef")
	if got := GetRequestID(ctx); got != "0123456789abcdef" {
		t.Errorf("Expected request ID to round trip, got %q", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("Expected empty request ID, got %q", got)
	}
}
