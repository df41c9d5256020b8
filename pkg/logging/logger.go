package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const requestIDKey contextKey = "requestID"

var (
	mu     sync.RWMutex
	logger *slog.Logger
	output io.Writer = os.Stderr
)

func init() {
	// Compact console output by default; SetJSONOutput switches format
	logger = slog.New(NewCompactHandler(output, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetOutput redirects log output. It keeps the compact format at level.
func SetOutput(w io.Writer, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	logger = slog.New(NewCompactHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel changes the logging level
func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(NewCompactHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetJSONOutput switches to JSON format output
func SetJSONOutput(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
}

// New returns a logger tagged with a component name
func New(component string) *slog.Logger {
	return current().With("component", component)
}

// LevelFromVerbosity maps -v counts to a level: 0 info, 1 debug, 2+ trace
func LevelFromVerbosity(verbosity int) slog.Level {
	switch {
	case verbosity >= 2:
		return LevelTrace
	case verbosity == 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// LevelTrace is below debug and only used while debugging
const LevelTrace = slog.LevelDebug - 4

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Helper function to add request ID to log attributes if present
func withRequestID(ctx context.Context, args []any) []any {
	requestID := GetRequestID(ctx)
	if requestID != "" {
		return append([]any{"requestID", requestID}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	current().Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	current().Log(ctx, LevelTrace, msg, withRequestID(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, withRequestID(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, withRequestID(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, withRequestID(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, withRequestID(ctx, args)...)
}

// Fatal logs at ERROR level and exits (unrecoverable bugs)
func Fatal(msg string, args ...any) {
	current().Error(msg, args...)
	os.Exit(1)
}

// FatalContext logs at ERROR level with context and exits
func FatalContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, withRequestID(ctx, args)...)
	os.Exit(1)
}
