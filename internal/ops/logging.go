package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/OxyHQ/mention-sync/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogSocketState logs a push-channel state transition
func (l *Logger) LogSocketState(state string, attempt int, err error) {
	if err != nil {
		l.Warn("socket state changed",
			"state", state,
			"attempt", attempt,
			"error", err)
	} else {
		l.Info("socket state changed",
			"state", state,
			"attempt", attempt)
	}
}

// LogReconnectScheduled logs a pending reconnect attempt
func (l *Logger) LogReconnectScheduled(attempt int, delay time.Duration, healthTriggered bool) {
	l.Info("reconnect scheduled",
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"health_triggered", healthTriggered)
}

// LogHealthCheck logs a heartbeat health evaluation
func (l *Logger) LogHealthCheck(sincePong time.Duration, failures int, forcing bool) {
	if forcing {
		l.Warn("connection unhealthy, forcing reconnect",
			"since_pong_ms", sincePong.Milliseconds(),
			"consecutive_failures", failures)
	} else if failures > 0 {
		l.Debug("health check failed",
			"since_pong_ms", sincePong.Milliseconds(),
			"consecutive_failures", failures)
	}
}

// LogQueueFlush logs an update-queue flush
func (l *Logger) LogQueueFlush(queue string, key string, pending, applied int) {
	l.Debug("queue flushed",
		"queue", queue,
		"key", key,
		"pending", pending,
		"applied", applied)
}

// LogEntityUpdate logs a cache mutation and how far it propagated
func (l *Logger) LogEntityUpdate(postID string, slicesTouched int) {
	l.Debug("entity updated",
		"post_id", postID,
		"slices_touched", slicesTouched)
}

// LogEchoSuppressed logs a dropped own-action echo
func (l *Logger) LogEchoSuppressed(postID, action string) {
	l.Debug("echo suppressed",
		"post_id", postID,
		"action", action)
}

// LogOptimisticRollback logs a failed remote write being rolled back
func (l *Logger) LogOptimisticRollback(postID, action string, err error) {
	l.Warn("optimistic update rolled back",
		"post_id", postID,
		"action", action,
		"error", err)
}

// LogFetch logs a feed fetch result
func (l *Logger) LogFetch(kind string, mode string, count int, hasMore bool, err error) {
	if err != nil {
		l.Error("feed fetch failed",
			"kind", kind,
			"mode", mode,
			"error", err)
	} else {
		l.Debug("feed fetched",
			"kind", kind,
			"mode", mode,
			"items", count,
			"has_more", hasMore)
	}
}

// LogStaleDiscard logs a superseded response being dropped
func (l *Logger) LogStaleDiscard(kind string, reason string) {
	l.Debug("stale response discarded",
		"kind", kind,
		"reason", reason)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string, config map[string]interface{}) {
	l.Info("mention-sync starting",
		"version", version,
		"commit", commit,
		"config", config)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("mention-sync shutting down",
		"reason", reason)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}
