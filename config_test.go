package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, NetworkTCP, cfg.Network)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, "0.0.0.0:3250", cfg.Addr())
}

func TestConfigValidate(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Port = 0 },
		func(c *Config) { c.Port = 70000 },
		func(c *Config) { c.BossThreads = 0 },
		func(c *Config) { c.WorkerThreads = -1 },
		func(c *Config) { c.MaxConnections = 0 },
		func(c *Config) { c.ConnectTimeoutMs = 0 },
		func(c *Config) { c.HeartbeatIntervalMs = 0 },
		func(c *Config) { c.HeartbeatTimeoutMs = -5 },
		func(c *Config) { c.DispatchQueue = 0 },
		func(c *Config) { c.Serializer = "xml" },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Equal(t, ErrInvalidConfig, errors.Cause(cfg.Validate()), "case %d", i)
	}

	cfg := DefaultConfig()
	cfg.Network = "udp"
	assert.Equal(t, ErrUnknownNetwork, errors.Cause(cfg.Validate()))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	content := `
[gateway]
network = "ws"
port = 4000
max-connections = 2
heartbeat-timeout-ms = 1500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("GATEWAY_BOSS_THREADS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, NetworkWS, cfg.Network)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 2, cfg.MaxConnections)
	assert.Equal(t, 1500*time.Millisecond, cfg.HeartbeatTimeout())
	assert.Equal(t, 3, cfg.BossThreads)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultConfig().WorkerThreads, cfg.WorkerThreads)
	assert.Equal(t, DefaultConfig().WSPath, cfg.WSPath)
	require.NoError(t, cfg.Validate())

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BossThreads)
	assert.Equal(t, DefaultConfig().Port, cfg.Port)
}
