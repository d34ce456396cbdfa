// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads mandala service configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/mandala/services/goals/telemetry"
)

// StorageConfig configures the goal tree store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory runs the store without disk persistence.
	InMemory bool `yaml:"in_memory"`
}

// CacheConfig configures the progress cache.
type CacheConfig struct {
	// MaxEntries bounds the cache size. 0 means the package default.
	MaxEntries int `yaml:"max_entries"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Dir enables JSON file logging when set.
	Dir string `yaml:"dir"`
}

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Path: defaultDataDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file, falling back to defaults for
// unset fields, then applies MANDALA_* environment overrides. An empty
// path returns defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Cache.MaxEntries < 0 {
		return Config{}, fmt.Errorf("cache.max_entries must not be negative, got %d", cfg.Cache.MaxEntries)
	}
	return cfg, nil
}

// applyEnvOverrides applies MANDALA_* variables on top of the loaded
// configuration:
//
//	MANDALA_DATA_DIR          storage.path
//	MANDALA_STORAGE_IN_MEMORY storage.in_memory ("true"/"false")
//	MANDALA_CACHE_MAX_ENTRIES cache.max_entries
//	MANDALA_LOG_LEVEL         logging.level
//	MANDALA_LOG_DIR           logging.dir
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MANDALA_DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MANDALA_STORAGE_IN_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.InMemory = b
		}
	}
	if v := os.Getenv("MANDALA_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("MANDALA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MANDALA_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mandala/data"
	}
	return home + "/.mandala/data"
}
