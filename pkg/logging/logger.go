package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	buildIDKey   contextKey = "buildID"
)

// LevelTrace is below debug; used for per-event watch chatter
const LevelTrace = slog.LevelDebug - 4

var (
	logger *slog.Logger
	out    io.Writer = os.Stderr
)

// Options configures the package logger.
type Options struct {
	Level slog.Level
	// JSON writes one JSON object per record instead of compact lines.
	JSON bool
	// Root and Color are passed to the compact handler.
	Root  string
	Color bool
}

func init() {
	// stdout belongs to compiler output
	Configure(Options{Level: slog.LevelInfo})
}

// Configure replaces the package logger.
func Configure(opts Options) {
	if opts.JSON {
		logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level}))
		return
	}
	logger = slog.New(NewCompactHandler(out, CompactOptions{
		Level: opts.Level,
		Root:  opts.Root,
		Color: opts.Color,
	}))
}

// SetOutput redirects log output (tests use io.Discard)
func SetOutput(w io.Writer) {
	out = w
	SetLevel(slog.LevelInfo)
}

// SetLevel switches to compact output at level
func SetLevel(level slog.Level) {
	Configure(Options{Level: level})
}

// New returns a logger tagged with a component name. It follows later
// Configure calls, so packages can create it at init time.
func New(component string) *slog.Logger {
	return slog.New(delegate{attrs: []slog.Attr{slog.String("component", component)}})
}

// delegate forwards records to the package-level handler current at the
// time of logging.
type delegate struct {
	attrs []slog.Attr
}

func (d delegate) Enabled(ctx context.Context, level slog.Level) bool {
	return logger.Handler().Enabled(ctx, level)
}

// Handle adds the build and request ids carried by ctx.
func (d delegate) Handle(ctx context.Context, r slog.Record) error {
	buildID, requestID := GetBuildID(ctx), GetRequestID(ctx)
	if buildID != "" || requestID != "" {
		r = r.Clone()
		if buildID != "" {
			r.AddAttrs(slog.String("buildID", buildID))
		}
		if requestID != "" {
			r.AddAttrs(slog.String("requestID", requestID))
		}
	}
	return logger.Handler().WithAttrs(d.attrs).Handle(ctx, r)
}

func (d delegate) WithAttrs(attrs []slog.Attr) slog.Handler {
	return delegate{attrs: append(d.attrs[:len(d.attrs):len(d.attrs)], attrs...)}
}

func (d delegate) WithGroup(name string) slog.Handler {
	return logger.Handler().WithAttrs(d.attrs).WithGroup(name)
}

// Logger returns the current package-level logger
func Logger() *slog.Logger {
	return logger
}

// NewBuildID returns a fresh identifier for one rebuild
func NewBuildID() string {
	return uuid.New().String()
}

// WithBuildID adds a rebuild ID to the context
func WithBuildID(ctx context.Context, buildID string) context.Context {
	return context.WithValue(ctx, buildIDKey, buildID)
}

// GetBuildID retrieves the rebuild ID from context
func GetBuildID(ctx context.Context) string {
	if buildID, ok := ctx.Value(buildIDKey).(string); ok {
		return buildID
	}
	return ""
}

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

// Helper function to add request and build IDs to log attributes if present
func withRequestID(ctx context.Context, args []any) []any {
	if buildID := GetBuildID(ctx); buildID != "" {
		args = append([]any{"buildID", buildID}, args...)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		args = append([]any{"requestID", requestID}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	logger.Log(ctx, LevelTrace, msg, withRequestID(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	logger.DebugContext(ctx, msg, withRequestID(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	logger.InfoContext(ctx, msg, withRequestID(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	logger.WarnContext(ctx, msg, withRequestID(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	logger.ErrorContext(ctx, msg, withRequestID(ctx, args)...)
}

// Fatal logs at ERROR level and exits (unrecoverable bugs)
func Fatal(msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// FatalContext logs at ERROR level with context and exits
func FatalContext(ctx context.Context, msg string, args ...any) {
	logger.ErrorContext(ctx, msg, withRequestID(ctx, args)...)
	os.Exit(1)
}
