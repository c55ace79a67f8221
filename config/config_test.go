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
	path := filepath.Join(t.TempDir(), "calengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
calendar:
  exchange_compat: true
  synthesize_decline_exceptions: true
lock:
  timeout: 5s
  max_waiters: 4
  lease_ttl: 90s
  flush_on_every_read: true
cluster:
  url: http://lockd.internal:8080
  owner: cal-node-3
storage:
  dsn: "file:/var/lib/calengine/meta.db?_journal_mode=WAL"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Calendar.ExchangeCompat)
	assert.True(t, cfg.Calendar.SynthesizeDeclineExceptions)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 4, cfg.Lock.MaxWaiters)
	assert.Equal(t, 90*time.Second, cfg.Lock.LeaseTTL)
	assert.True(t, cfg.Lock.FlushOnEveryRead)
	assert.Equal(t, "http://lockd.internal:8080", cfg.Cluster.URL)
	assert.Equal(t, "cal-node-3", cfg.Cluster.Owner)
	assert.Equal(t, "file:/var/lib/calengine/meta.db?_journal_mode=WAL", cfg.Storage.DSN)
}

func TestLoad_PartialConfigGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
calendar:
  exchange_compat: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Lock.Timeout, cfg.Lock.Timeout)
	assert.Equal(t, def.Lock.MaxWaiters, cfg.Lock.MaxWaiters)
	assert.Equal(t, def.Lock.LeaseTTL, cfg.Lock.LeaseTTL)
	assert.Equal(t, def.Storage.DSN, cfg.Storage.DSN)
	assert.Empty(t, cfg.Cluster.Owner, "no cluster URL means no owner identity")
}

func TestLoad_ClusterOwnerDefaultsToHostname(t *testing.T) {
	path := writeConfig(t, `
cluster:
  url: http://lockd.internal:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Cluster.Owner)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, "lock: [not a mapping")
	_, err = Load(path)
	assert.Error(t, err)
}
