package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "backsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse(nil))

	cfg, err := loadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddress)
	assert.Equal(t, backendMemory, cfg.Store.Backend)
	assert.Equal(t, "backsync", cfg.Store.Namespace)
	assert.Equal(t, 1, cfg.Store.Version)
	assert.Equal(t, connectivityNone, cfg.Connectivity.Mode)
	assert.Equal(t, 4, cfg.Replay.Concurrency)
	assert.Equal(t, time.Hour, cfg.Replay.CleanupInterval)
	assert.Empty(t, cfg.Routes)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen_address: 0.0.0.0:9000
store:
  backend: sqlite
  sqlite_path: /tmp/q.db
connectivity:
  mode: probe
  probe_url: http://upstream.local/health
  probe_interval: 2s
replay:
  fetch_timeout: 5s
  max_age: 24h
routes:
  - name: orders
    prefix: /orders
    upstream: http://upstream.local/orders
    max_age: 1h
`)

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--config", path, "--listen", "127.0.0.1:7000"}))

	cfg, err := loadConfig(fs)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddress, "flag overrides file")
	assert.Equal(t, backendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/q.db", cfg.Store.SQLitePath)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 5*time.Second, cfg.Replay.FetchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Replay.MaxAge)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, RouteConfig{
		Name:     "orders",
		Prefix:   "/orders",
		Upstream: "http://upstream.local/orders",
		MaxAge:   time.Hour,
	}, cfg.Routes[0])
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("BACKSYNC_LOG_LEVEL", "debug")
	t.Setenv("BACKSYNC_STORE_BACKEND", "sqlite")

	fs := newFlagSet()
	require.NoError(t, fs.Parse(nil))

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, backendSQLite, cfg.Store.Backend)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{
			name:   "unknown backend",
			config: "store:\n  backend: redis\n",
			want:   `unknown store backend "redis"`,
		},
		{
			name:   "nats store without url",
			config: "store:\n  backend: nats\n",
			want:   "nats_url is required",
		},
		{
			name:   "probe without url",
			config: "connectivity:\n  mode: probe\n",
			want:   "probe_url is required",
		},
		{
			name:   "invalid queue name",
			config: "routes:\n  - name: \"a!b\"\n    prefix: /a\n    upstream: http://x\n",
			want:   "routes[0]",
		},
		{
			name:   "admin prefix",
			config: "routes:\n  - name: a\n    prefix: /_backsync/a\n    upstream: http://x\n",
			want:   "invalid prefix",
		},
		{
			name:   "bad upstream",
			config: "routes:\n  - name: a\n    prefix: /a\n    upstream: ftp://x\n",
			want:   "invalid upstream",
		},
		{
			name: "duplicate route",
			config: "routes:\n  - name: a\n    prefix: /a\n    upstream: http://x\n" +
				"  - name: a\n    prefix: /b\n    upstream: http://x\n",
			want: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFlagSet()
			require.NoError(t, fs.Parse([]string{"-c", writeConfig(t, tt.config)}))

			_, err := loadConfig(fs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))

	_, err := loadConfig(fs)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(&Config{LogLevel: "loud"})
	require.Error(t, err)

	log, err := newLogger(&Config{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, "warning", log.GetLevel().String())
}

func TestRealMainVersion(t *testing.T) {
	assert.Equal(t, 0, realMain([]string{"--version"}))
	assert.Equal(t, 2, realMain([]string{"--no-such-flag"}))
}
