// Package logging provides structured logging for netplugd.
//
// It wraps Go's standard library log/slog, and adds two handlers netplugd
// actually needs: a foreground handler that renders the way netplug has
// always reported itself on a terminal ("Warning: ...", "Notice: ...",
// "Error: ..."), and a syslog-backed handler for when the daemon detaches
// from its controlling terminal. Structured text/JSON handlers remain
// available for anything that wants machine-readable output instead.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"sync"
)

// ctxKey is the context key for the logger.
type ctxKey struct{}

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
	// loggerMu protects defaultLogger.
	loggerMu sync.RWMutex
)

func init() {
	defaultLogger = slog.New(NewForegroundHandler(os.Stderr, slog.LevelInfo))
}

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level slog.Level
	// Format selects the handler: "text", "json", "foreground", or "syslog".
	Format string
	// Output is the log output destination for "text", "json", and
	// "foreground" formats. Ignored for "syslog".
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
	// SyslogTag is the tag passed to the syslog daemon for "syslog" format.
	// Defaults to "netplugd" if empty.
	SyslogTag string
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg Config) *slog.Logger {
	if cfg.Format == "syslog" {
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "netplugd"
		}
		handler, err := NewSyslogHandler(tag, cfg.Level)
		if err != nil {
			// Fall back to the foreground handler; syslogd being
			// unreachable must not keep the daemon from starting.
			return slog.New(NewForegroundHandler(os.Stderr, cfg.Level))
		}
		return slog.New(handler)
	}

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	if cfg.Format == "foreground" || cfg.Format == "" {
		return slog.New(NewForegroundHandler(cfg.Output, cfg.Level))
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// SetDefault sets the default global logger.
func SetDefault(logger *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// Default returns the default global logger.
func Default() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithInterface returns a logger annotated with the interface it concerns.
func WithInterface(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("interface", name))
}

// WithAction returns a logger annotated with the helper script action
// ("probe", "in" or "out") currently running.
func WithAction(logger *slog.Logger, action string) *slog.Logger {
	return logger.With(slog.String("action", action))
}

// WithOperation returns a logger with operation context.
func WithOperation(logger *slog.Logger, op string) *slog.Logger {
	return logger.With(slog.String("operation", op))
}

// WithPID returns a logger with process ID context.
func WithPID(logger *slog.Logger, pid int) *slog.Logger {
	return logger.With(slog.Int("pid", pid))
}

// WithPath returns a logger with file path context.
func WithPath(logger *slog.Logger, path string) *slog.Logger {
	return logger.With(slog.String("path", path))
}

// ContextWithLogger returns a new context with the logger attached.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the logger from context.
// If no logger is found, returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return Default()
}

// ParseLevel parses a log level string and returns the corresponding slog.Level.
// Valid values: "debug", "info", "warn", "error".
// Returns slog.LevelInfo for invalid values.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions for common log patterns.

// Info logs an info message using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// InfoContext logs an info message using the logger from context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

// WarnContext logs a warning message using the logger from context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs an error message using the logger from context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}

// DebugContext logs a debug message using the logger from context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}

// ForegroundHandler renders log records the way netplug has always reported
// itself when attached to a terminal: "Warning: msg key=val ...". It carries
// no timestamp, matching the original's bare stderr lines.
type ForegroundHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewForegroundHandler returns a handler writing prefixed lines to w.
func NewForegroundHandler(w io.Writer, level slog.Leveler) *ForegroundHandler {
	return &ForegroundHandler{mu: &sync.Mutex{}, out: w, level: level}
}

func (h *ForegroundHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ForegroundHandler) Handle(_ context.Context, r slog.Record) error {
	prefix := levelPrefix(r.Level)

	line := prefix + r.Message
	for _, a := range h.attrs {
		line += " " + a.Key + "=" + fmt.Sprint(a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + fmt.Sprint(a.Value.Any())
		return true
	})
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *ForegroundHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &ForegroundHandler{mu: h.mu, out: h.out, level: h.level, groups: h.groups}
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return n
}

func (h *ForegroundHandler) WithGroup(name string) slog.Handler {
	n := &ForegroundHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs}
	n.groups = append(append([]string{}, h.groups...), name)
	return n
}

func levelPrefix(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "Error: "
	case level >= slog.LevelWarn:
		return "Warning: "
	case level >= slog.LevelInfo:
		return "Notice: "
	default:
		return "Debug: "
	}
}

// syslogHandler forwards records to the system log via stdlib log/syslog,
// mapping slog levels onto syslog priorities the way netplug's daemonized
// do_log did (LOG_DEBUG/LOG_NOTICE/LOG_WARNING/LOG_ERR; info-level records
// go out as LOG_NOTICE).
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Leveler
	attrs  []slog.Attr
}

// NewSyslogHandler opens a connection to the system logger under the given
// tag and returns a handler writing to it.
func NewSyslogHandler(tag string, level slog.Leveler) (slog.Handler, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_NOTICE, tag)
	if err != nil {
		return nil, err
	}
	return &syslogHandler{writer: w, level: level}, nil
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	line := r.Message
	for _, a := range h.attrs {
		line += " " + a.Key + "=" + fmt.Sprint(a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + a.Key + "=" + fmt.Sprint(a.Value.Any())
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		return h.writer.Err(line)
	case r.Level >= slog.LevelWarn:
		return h.writer.Warning(line)
	case r.Level >= slog.LevelInfo:
		return h.writer.Notice(line)
	default:
		return h.writer.Debug(line)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := &syslogHandler{writer: h.writer, level: h.level}
	n.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return n
}

func (h *syslogHandler) WithGroup(_ string) slog.Handler {
	return h
}
