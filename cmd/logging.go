package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/quickrecorder/internal/config"
)

// logFile is the rotating file behind the current file handler, if any.
var logFile *lumberjack.Logger

// setupLogging configures slog: text on stderr at the verbose level, and
// JSON to a rotating file when the configuration names one.
func setupLogging(verbose int, logCfg config.LogConfig) {
	level := parseLevel(logCfg.Level)
	if verbose >= 1 {
		level = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if logCfg.File != "" {
		logFile = &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
		}
		fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level})
		handler = teeHandler{handler, fileHandler}
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// teeHandler sends every record to each of its handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
