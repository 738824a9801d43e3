package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/mldb"
  max_request_bytes: "2MB"
logging:
  level: "debug"
security:
  rate_limit:
    rps: 2.5
    burst: 20
search:
  endpoint: "http://localhost:9200"
  index: "missionlog-records"
  request_timeout: "3s"
ingest:
  push_timeout: "2s"
indexer:
  batch_size: 32
  workers: 2
  poll_interval: "250ms"
  backoff_base: "500ms"
  backoff_max: "1m"
  max_attempts: 5
query:
  timeout: "800ms"
  scan_limit: 200
reconcile:
  enabled: true
  cron: "0 3 * * *"
  retain_acked: "72h"
  batch_size: 500
telemetry:
  sample_rate: 0.01
  slow_threshold: "150ms"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "/tmp/mldb", cfg.Server.DBPath)
	assert.Equal(t, int64(2*1000*1000), cfg.Server.MaxRequestBytes.Int64())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2.5, cfg.Security.RateLimit.RPS)
	assert.Equal(t, 20, cfg.Security.RateLimit.Burst)
	assert.Equal(t, "http://localhost:9200", cfg.Search.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Search.RequestTimeout.Duration())
	assert.Equal(t, 2*time.Second, cfg.Ingest.PushTimeout.Duration())
	assert.Equal(t, 32, cfg.Indexer.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Indexer.PollInterval.Duration())
	assert.Equal(t, time.Minute, cfg.Indexer.BackoffMax.Duration())
	assert.Equal(t, 800*time.Millisecond, cfg.Query.Timeout.Duration())
	assert.Equal(t, 200, cfg.Query.ScanLimit)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Reconcile.Cron)
	assert.Equal(t, 72*time.Hour, cfg.Reconcile.RetainAcked.Duration())
	assert.Equal(t, 0.01, cfg.Telemetry.SampleRate)
	assert.Equal(t, 150*time.Millisecond, cfg.Telemetry.SlowThreshold.Duration())
}

func TestDurationNumericSeconds(t *testing.T) {
	path := writeConfig(t, "query:\n  timeout: 2\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Query.Timeout.Duration())
}

func TestDurationOr(t *testing.T) {
	var d Duration
	assert.Equal(t, 800*time.Millisecond, d.Or(800*time.Millisecond))
	d = Duration(time.Second)
	assert.Equal(t, time.Second, d.Or(800*time.Millisecond))
}

func TestSizeBytesPlainInteger(t *testing.T) {
	path := writeConfig(t, "server:\n  max_request_bytes: 1048576\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), cfg.Server.MaxRequestBytes.Int64())
}

func TestAddrDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \"10.0.0.1\"\n  port: 7070\n  db_path: \"/data/cfgdb\"\n")

	// Flag wins over env and config.
	flags, err := ParseConfigFlags([]string{"-addr", ":9999", "-config", path})
	require.NoError(t, err)
	t.Setenv("MISSIONLOG_ADDR", ":8888")
	res, err := LoadEffectiveConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, ":9999", res.Addr)
	assert.Equal(t, "flag", res.Source)
	assert.Equal(t, "/data/cfgdb", res.DBPath)

	// Env wins over config when the flag is absent.
	flags, err = ParseConfigFlags([]string{"-config", path})
	require.NoError(t, err)
	res, err = LoadEffectiveConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, ":8888", res.Addr)
	assert.Equal(t, "env", res.Source)

	// Config file used when neither flag nor env is set.
	t.Setenv("MISSIONLOG_ADDR", "")
	res, err = LoadEffectiveConfig(flags)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7070", res.Addr)
	assert.Equal(t, "config", res.Source)
}

func TestParseConfigEnvsOverlay(t *testing.T) {
	t.Setenv("MISSIONLOG_SEARCH_ENDPOINT", "http://search:9200")
	t.Setenv("MISSIONLOG_RATE_RPS", "7.5")
	t.Setenv("MISSIONLOG_RATE_BURST", "15")
	cfg := &Config{}
	ParseConfigEnvs(cfg)
	assert.Equal(t, "http://search:9200", cfg.Search.Endpoint)
	assert.Equal(t, 7.5, cfg.Security.RateLimit.RPS)
	assert.Equal(t, 15, cfg.Security.RateLimit.Burst)
}

func TestParseConfigFileMissingIsNil(t *testing.T) {
	cfg, err := ParseConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
