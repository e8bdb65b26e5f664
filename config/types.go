package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so both TOML and YAML files can use human
// readable strings such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML string values.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// MarshalText keeps persisted defaults readable.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(raw string) error {
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Storage selects and locates the durable store.
type Storage struct {
	// Backend is "leveldb" or "sql".
	Backend string `toml:"Backend" yaml:"backend"`
	// Path is the LevelDB directory. Defaults to <DataDir>/chain.
	Path string `toml:"Path" yaml:"path"`
	// DSN is a postgres:// URL or a sqlite file DSN.
	DSN string `toml:"DSN" yaml:"dsn"`
}

// Restore tunes the warm start.
type Restore struct {
	ParallelLoads bool `toml:"ParallelLoads" yaml:"parallel_loads"`
	// MaxAttempts bounds how often a failed restore is retried. 1 disables
	// retries.
	MaxAttempts   int      `toml:"MaxAttempts" yaml:"max_attempts"`
	RetryInterval Duration `toml:"RetryInterval" yaml:"retry_interval"`
	// JobQueueSize is the buffer of the root hash job channel.
	JobQueueSize int `toml:"JobQueueSize" yaml:"job_queue_size"`
}

type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
}

type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	// Headers uses the OTEL form key=value,foo=bar.
	Headers string `toml:"Headers" yaml:"headers"`
	Traces  bool   `toml:"Traces" yaml:"traces"`
	Metrics bool   `toml:"Metrics" yaml:"metrics"`
}
