package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Replication.DestroyOwned())
	assert.Equal(t, 100*time.Millisecond, cfg.Replication.SendIntervalDuration())
	assert.Equal(t, time.Second, cfg.Interest.UpdateIntervalDuration())
}

func TestParse_OverridesAndInfiniteRadius(t *testing.T) {
	cfg, err := Parse([]byte(`
interest:
  strategy: spatial_hash
  visibility_radius: .inf
  cell_size: 32
replication:
  destroy_owned_on_disconnect: false
  tick_rate: 60
compression:
  rotation_bits: 10
`))
	require.NoError(t, err)
	assert.Equal(t, "spatial_hash", cfg.Interest.Strategy)
	assert.True(t, math.IsInf(cfg.Interest.VisibilityRadius, 1))
	assert.False(t, cfg.Replication.DestroyOwned())
	assert.Equal(t, time.Second/60, cfg.Replication.TickInterval())
	assert.Equal(t, 10, cfg.Compression.RotationBits)
	// не указанное в файле остаётся по умолчанию
	assert.Equal(t, 18, cfg.Compression.IDBitsLarge)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"bits":      func(c *Config) { c.Compression.IDBitsLarge = 40 },
		"tiers":     func(c *Config) { c.Compression.IDBitsMedium = 4 },
		"precision": func(c *Config) { c.Compression.PositionPrecision = 0 },
		"bounds":    func(c *Config) { c.Compression.PositionMax.Y = -100 },
		"threshold": func(c *Config) { c.Batching.UnreliableThreshold = 0 },
		"strategy":  func(c *Config) { c.Interest.Strategy = "octree" },
		"jwt":       func(c *Config) { c.Auth.Mode = "jwt" },
	}
	t.Setenv("NETSYNC_JWT_SECRET", "")
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Default().Compression
	b := Default().Compression
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Strict = true
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.PositionPrecision = 0.02
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestLoad_EnvPathAndPorts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  admin_port: 9999\n"), 0o644))

	t.Setenv("NETSYNC_CONFIG", path)
	t.Setenv("NETSYNC_KCP_PORT", "7001")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.GetAdminPort())
	assert.Equal(t, 7001, cfg.Server.GetKCPPort())

	t.Setenv("NETSYNC_CONFIG", "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestStorageAndEvents(t *testing.T) {
	cfg, err := Parse([]byte(`
storage:
  backend: badger
  path: /tmp/netsync
  autosave_interval_seconds: 2.5
events:
  backend: nats
  stream: GAME
`))
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 2500*time.Millisecond, cfg.Storage.AutosaveDuration())
	assert.Equal(t, 200*time.Millisecond, cfg.Storage.LoadTimeoutDuration())
	assert.Equal(t, "GAME", cfg.Events.Stream)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, 24*time.Hour, cfg.Events.Retention())

	t.Setenv("NETSYNC_MYSQL_DSN", "")
	_, err = Parse([]byte("storage:\n  backend: mysql\n"))
	assert.Error(t, err)

	t.Setenv("NETSYNC_MYSQL_DSN", "u:p@tcp(db:3306)/netsync")
	cfg, err = Parse([]byte("storage:\n  backend: mysql\n"))
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(db:3306)/netsync", cfg.Storage.GetMySQLDSN())

	_, err = Parse([]byte("events:\n  backend: kafka\n"))
	assert.Error(t, err)
}
