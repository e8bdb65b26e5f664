package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendLevelDB, cfg.Storage.Backend)
	require.Equal(t, filepath.Join("./rollup-data", "chain"), cfg.Storage.Path)
	require.Equal(t, 1, cfg.Restore.MaxAttempts)
	require.FileExists(t, path)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `NetworkName = "devnet"
DataDir = "/var/lib/rollup"
MetricsAddress = "127.0.0.1:9200"

[Storage]
Backend = "SQL"
DSN = "postgres://node:pw@db/rollup"

[Restore]
ParallelLoads = true
MaxAttempts = 3
RetryInterval = "500ms"

[Logging]
Level = "debug"
File = "/var/log/rollup/node.log"

[Telemetry]
Endpoint = "otel:4318"
Traces = true
Headers = "api-key=abc"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "devnet", cfg.NetworkName)
	require.Equal(t, BackendSQL, cfg.Storage.Backend)
	require.Equal(t, "postgres://node:pw@db/rollup", cfg.Storage.DSN)
	require.True(t, cfg.Restore.ParallelLoads)
	require.Equal(t, 3, cfg.Restore.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Restore.RetryInterval.Duration)
	require.Equal(t, 64, cfg.Restore.JobQueueSize)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 100, cfg.Logging.MaxSizeMB, "unset keys keep defaults")
	require.True(t, cfg.Telemetry.Traces)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `network: devnet
data_dir: /data
storage:
  backend: sql
  dsn: file:/data/chain.db
restore:
  max_attempts: 2
  retry_interval: 1s
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendSQL, cfg.Storage.Backend)
	require.Equal(t, "file:/data/chain.db", cfg.Storage.DSN)
	require.Equal(t, 2, cfg.Restore.MaxAttempts)
	require.Equal(t, time.Second, cfg.Restore.RetryInterval.Duration)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingYAMLFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("DataDir = \"x\"\nListenAddress = \":6001\"\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "ListenAddress")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "bolt" }},
		{"sql without dsn", func(c *Config) { c.Storage.Backend = BackendSQL }},
		{"leveldb without path", func(c *Config) { c.Storage.Path = "" }},
		{"zero attempts", func(c *Config) { c.Restore.MaxAttempts = 0 }},
		{"too many attempts", func(c *Config) { c.Restore.MaxAttempts = MaxRestoreAttempts + 1 }},
		{"negative interval", func(c *Config) { c.Restore.RetryInterval.Duration = -time.Second }},
		{"empty queue", func(c *Config) { c.Restore.JobQueueSize = 0 }},
		{"negative rotation", func(c *Config) { c.Logging.MaxBackups = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.applyDefaults()
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalText([]byte("soon")))
	require.NoError(t, d.UnmarshalText(nil))
	require.Zero(t, d.Duration)
}
