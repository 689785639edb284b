// Package logctx initializes the process-wide structured logger and
// carries the per-request logging context (workspace/thread/channel) that
// every subsystem attaches to its log lines.
package logctx

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/executive-assistant/ken"

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// filteringHandler suppresses third-party library logs unless the level
// is DEBUG, so operators see the runtime's own story at INFO by default.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return true
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return true
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePrefix) || strings.Contains(file, "/ken/")
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// Init configures the default slog logger. format is "json" or "text".
func Init(level slog.Level, output *os.File, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	if format == "json" {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(&filteringHandler{handler: base, minLevel: level})
	slog.SetDefault(logger)
	return logger
}

// requestCtxKey carries the logging-relevant projection of the request
// scope.
type requestCtxKey struct{}

// RequestAttrs is the subset of request scope worth attaching to every
// log line emitted while handling a turn.
type RequestAttrs struct {
	WorkspaceID string
	ThreadID    string
	Channel     string
}

// WithRequest returns a context carrying logging attributes and a logger
// pre-populated with them.
func WithRequest(ctx context.Context, attrs RequestAttrs) (context.Context, *slog.Logger) {
	logger := slog.Default().With(
		"workspace_id", attrs.WorkspaceID,
		"thread_id", attrs.ThreadID,
		"channel", attrs.Channel,
	)
	return context.WithValue(ctx, requestCtxKey{}, logger), logger
}

// From returns the logger attached to ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(requestCtxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
