package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Query     QueryConfig     `yaml:"query"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener and storage path settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
	// MaxRequestBytes caps request bodies on mutating endpoints.
	MaxRequestBytes SizeBytes `yaml:"max_request_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SecurityConfig holds the per-client rate limit settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket: RPS refill rate with a Burst cap.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SearchConfig selects and tunes the search backend. An empty endpoint
// selects the embedded engine; otherwise the endpoint is an
// OpenSearch-compatible base URL.
type SearchConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Index          string   `yaml:"index"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// IngestConfig tunes the write path.
type IngestConfig struct {
	// PushTimeout bounds the best-effort index push after commit.
	PushTimeout Duration `yaml:"push_timeout"`
}

// IndexerConfig tunes the outbox drain loop.
type IndexerConfig struct {
	BatchSize    int      `yaml:"batch_size"`
	Workers      int      `yaml:"workers"`
	PollInterval Duration `yaml:"poll_interval"`
	BackoffBase  Duration `yaml:"backoff_base"`
	BackoffMax   Duration `yaml:"backoff_max"`
	MaxAttempts  int      `yaml:"max_attempts"`
}

// QueryConfig tunes the read path.
type QueryConfig struct {
	Timeout Duration `yaml:"timeout"`
	// ScanLimit caps how many records the degraded fallback examines.
	ScanLimit int `yaml:"scan_limit"`
}

// TelemetryConfig controls sampling and slow-request thresholds.
type TelemetryConfig struct {
	SampleRate    float64  `yaml:"sample_rate"`
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// ReconcileConfig holds configuration for the scheduled outbox maintenance
// runner.
type ReconcileConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Cron         string   `yaml:"cron"`
	RetainAcked  Duration `yaml:"retain_acked"`
	BatchSize    int      `yaml:"batch_size"`
	BatchSleepMs int      `yaml:"batch_sleep_ms"`
	// LockTTL bounds the run lease; a crashed runner frees the lock after
	// this long.
	LockTTL Duration `yaml:"lock_ttl"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Or returns the wrapped duration, or def when unset.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}
