// Package config loads autosave tuning from YAML. Unset values fall
// back to the same defaults the engines use, so an empty file is a
// valid configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the autosave tuning surface.
type Config struct {
	// DebounceMS is the save coalescing window in milliseconds.
	// Zero flushes every change immediately.
	DebounceMS int `yaml:"debounce_ms"`

	// MaxRetries is the consecutive-failure ceiling before retries are
	// logged as terminal.
	MaxRetries int `yaml:"max_retries"`

	// HistoryDepth bounds the undo stack. Zero or negative means
	// unbounded.
	HistoryDepth int `yaml:"history_depth"`

	// SaveOnReplay controls whether undo/redo queue a save.
	SaveOnReplay *bool `yaml:"save_on_replay,omitempty"`

	// Validation tunes the validation result cache.
	Validation ValidationConfig `yaml:"validation"`

	// JournalPath enables the durable attempt journal when non-empty.
	JournalPath string `yaml:"journal_path,omitempty"`

	// SchemaDir points at the CUE record schemas, empty to skip
	// schema-driven validation.
	SchemaDir string `yaml:"schema_dir,omitempty"`
}

// ValidationConfig tunes the validation result cache.
type ValidationConfig struct {
	CacheSize  int `yaml:"cache_size"`
	CacheTTLMS int `yaml:"cache_ttl_ms"`
}

// Default returns the configuration the engines default to.
func Default() Config {
	on := true
	return Config{
		DebounceMS:   500,
		MaxRetries:   3,
		HistoryDepth: 100,
		SaveOnReplay: &on,
		Validation: ValidationConfig{
			CacheSize:  64,
			CacheTTLMS: 30_000,
		},
	}
}

// Load reads and validates a YAML config file. Missing keys keep their
// defaults; unknown keys are rejected to catch typos.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must be non-negative, got %d", c.DebounceMS)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.Validation.CacheSize < 1 {
		return fmt.Errorf("validation.cache_size must be at least 1, got %d", c.Validation.CacheSize)
	}
	if c.Validation.CacheTTLMS < 0 {
		return fmt.Errorf("validation.cache_ttl_ms must be non-negative, got %d", c.Validation.CacheTTLMS)
	}
	return nil
}

// Debounce returns the coalescing window as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// CacheTTL returns the validation cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Validation.CacheTTLMS) * time.Millisecond
}

// ReplaySaves reports whether undo/redo queue saves.
func (c Config) ReplaySaves() bool {
	return c.SaveOnReplay == nil || *c.SaveOnReplay
}
