// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{" error ", LevelError},
		{"", LevelInfo},
		{"garbage", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hello", "task_id", "t-1")
	logger.Debug("details", "count", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "testsvc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("line count = %d, want 2", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["service"] != "testsvc" {
		t.Errorf("service = %v, want testsvc", entry["service"])
	}
	if entry["task_id"] != "t-1" {
		t.Errorf("task_id = %v, want t-1", entry["task_id"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{
		Level:  LevelWarn,
		LogDir: dir,
		Quiet:  true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "mandala_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("line count = %d, want 2 (warn + error)", len(lines))
	}
}

func TestNew_CreatesLogDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := New(Config{LogDir: dir, Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat log dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("log path is not a directory")
	}
}

func TestLogger_With(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{LogDir: dir, Service: "svc", Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	child := logger.With("goal_id", "g-1")
	child.Info("from child")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "svc_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"goal_id":"g-1"`) {
		t.Errorf("child attribute missing from output: %s", data)
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	logger, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLogger_QuietWithoutFileDiscards(t *testing.T) {
	logger, err := New(Config{Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Nothing to assert beyond "does not panic".
	logger.Info("into the void")
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil || logger.Slog() == nil {
		t.Fatal("Default returned nil logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
