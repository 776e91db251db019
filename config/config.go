// Package config loads engine configuration from YAML, overlaying user
// values onto defaults that work for a typical repository checkout.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-dev/lattice/internal/storage"
)

// Config is the full engine configuration.
type Config struct {
	// Root is the repository root to index.
	Root string `yaml:"root"`

	Storage storage.Config `yaml:"storage"`
	Cache   CacheConfig    `yaml:"cache"`
	Scan    ScanConfig     `yaml:"scan"`
	Watch   WatchConfig    `yaml:"watch"`

	// Workers bounds parallel extraction. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

type CacheConfig struct {
	// Capacity is the maximum number of cached artifacts; zero means
	// unbounded.
	Capacity int `yaml:"capacity"`
}

type ScanConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Root:    ".",
		Storage: storage.Config{Driver: "memory"},
		Cache:   CacheConfig{Capacity: 10000},
		Scan: ScanConfig{
			Exclude: []string{
				"node_modules/**", "node_modules",
				"vendor/**", "vendor",
				"target/**", "target",
				"dist/**", "dist",
			},
		},
		Watch:    WatchConfig{Debounce: 250 * time.Millisecond},
		Workers:  runtime.NumCPU(),
		LogLevel: "info",
	}
}

// Load reads a YAML config file, overlaying it on Default. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// SlogLevel maps the configured level name onto a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
