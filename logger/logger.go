// Package logger provides structured logging for attachsieve.
//
// It wraps Go's standard library slog and supports console (stdout/stderr),
// file and syslog outputs. Initialize the logger once at startup:
//
//	cfg := config.LoggingConfig{Output: "stderr", Level: "info", Format: "console"}
//	logFile, err := logger.Initialize(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logFile.Close()
//
// then use the package-level functions with key-value pairs:
//
//	logger.Info("Rules loaded", "count", n)
//	logger.Error("Failed to compile rule", "rule", name, "error", err)
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"

	"github.com/mailva/attachsieve/config"
)

var globalLogger *slog.Logger

// syslogHandler wraps syslog.Writer to implement slog.Handler
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func newSyslogHandler(w *syslog.Writer, level slog.Level) *syslogHandler {
	return &syslogHandler{
		writer: w,
		level:  level,
		attrs:  []slog.Attr{},
		groups: []string{},
	}
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		attrs := make([]any, 0, len(h.attrs)*2+r.NumAttrs()*2)
		for _, a := range h.attrs {
			attrs = append(attrs, a.Key, a.Value.Any())
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, a.Key, a.Value.Any())
			return true
		})
		if len(attrs) > 0 {
			msg = fmt.Sprintf("%s %v", msg, attrs)
		}
	}

	switch r.Level {
	case slog.LevelDebug:
		return h.writer.Debug(msg)
	case slog.LevelInfo:
		return h.writer.Info(msg)
	case slog.LevelWarn:
		return h.writer.Warning(msg)
	case slog.LevelError:
		return h.writer.Err(msg)
	default:
		return h.writer.Info(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &syslogHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *syslogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &syslogHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// Initialize sets up the global logger based on configuration. The returned
// file is non-nil when logging to a file; the caller owns closing it.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	var logFile *os.File

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	format := cfg.Format
	if format == "" {
		format = "console"
	}
	level := cfg.Level
	if level == "" {
		level = "info"
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: false, // Disabled because wrapper functions report incorrect source locations
	}

	var handler slog.Handler

	switch output {
	case "stdout":
		handler = newStreamHandler(os.Stdout, format, handlerOpts)

	case "stderr":
		handler = newStreamHandler(os.Stderr, format, handlerOpts)

	case "syslog":
		if runtime.GOOS != "windows" {
			syslogWriter, sysErr := syslog.New(syslog.LOG_INFO|syslog.LOG_MAIL, "attachsieve")
			if sysErr != nil {
				fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v. Falling back to stderr.\n", sysErr)
				handler = newStreamHandler(os.Stderr, format, handlerOpts)
			} else {
				handler = newSyslogHandler(syslogWriter, handlerOpts.Level.Level())
			}
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: syslog is not supported on Windows. Falling back to stderr.\n")
			handler = newStreamHandler(os.Stderr, format, handlerOpts)
		}

	default:
		// Assume it's a file path
		var err error
		logFile, err = os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to open log file '%s': %v. Falling back to stderr.\n", output, err)
			handler = newStreamHandler(os.Stderr, format, handlerOpts)
			logFile = nil
		} else {
			handler = newStreamHandler(logFile, format, handlerOpts)
		}
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)

	return logFile, nil
}

func newStreamHandler(f *os.File, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(f, opts)
	}
	return slog.NewTextHandler(f, opts)
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
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

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Debug logs a debug message with optional key-value pairs
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...any) {
	Get().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
