// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for mandala components.
//
// Built on the standard library slog package, with two destinations:
// stderr (text by default, following Unix CLI conventions) and an
// optional JSON log file with automatic directory creation.
//
// Basic usage:
//
//	logger := logging.Default()
//	logger.Info("recalculation complete", "task_id", taskID)
//
// With file logging:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.mandala/logs",
//	    Service: "mandala",
//	})
//	defer logger.Close()
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity. Levels follow slog conventions and
// are ordered Debug < Info < Warn < Error; setting a minimum level
// filters out everything below it.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string ("debug", "info", "warn",
// "error", case-insensitive) to a Level. Unknown strings map to
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures Logger behavior. The zero value logs Info+ to
// stderr in text format.
type Config struct {
	// Level is the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory. The file is
	// named "{Service}_{YYYY-MM-DD}.log" and always JSON. Supports ~
	// expansion. Default: "" (disabled).
	LogDir string

	// Service is included in every entry as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON format.
	JSON bool

	// Quiet disables stderr output; logs go only to the file.
	Quiet bool
}

// Logger wraps slog.Logger with multi-destination output and file
// lifecycle management.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// Default returns a logger writing Info+ text to stderr.
func Default() *Logger {
	logger, _ := New(Config{})
	return logger
}

// New creates a Logger from the configuration. The returned logger
// must be Closed if file logging is enabled.
func New(cfg Config) (*Logger, error) {
	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var file *os.File
	if cfg.LogDir != "" {
		dir, err := expandHome(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		name := fmt.Sprintf("%s_%s.log", serviceOr(cfg.Service), time.Now().Format("2006-01-02"))
		file, err = os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = discardHandler{}
	case 1:
		handler = handlers[0]
	default:
		handler = multiHandler(handlers)
	}

	sl := slog.New(handler)
	if cfg.Service != "" {
		sl = sl.With(slog.String("service", cfg.Service))
	}

	return &Logger{slog: sl, file: file}, nil
}

// Slog returns the underlying slog.Logger for packages that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Debug logs at debug level with alternating key-value attributes.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger carrying additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: nil}
}

// Close flushes and closes the log file, if any. Safe to call
// multiple times and on loggers without a file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func serviceOr(service string) string {
	if service == "" {
		return "mandala"
	}
	return service
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// multiHandler fans a record out to every destination.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

// discardHandler drops everything (Quiet with no file configured).
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
