// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements storage.Store on BadgerDB.
//
// BadgerDB gives the goal tree low-latency embedded persistence with
// transactional single-record updates, which is all the progress engine
// needs: point lookups by identifier and point writes of one progress
// field. In-memory mode backs the test suite.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the underlying BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// 0 disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before
	// a GC pass rewrites the value log.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and a
// five-minute GC interval.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory mode,
// no sync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openDB opens the configured BadgerDB instance, creating the data
// directory if needed.
func openDB(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when no GC was needed.
			err := r.db.RunValueLogGC(r.ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if r.logger != nil {
					r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}
