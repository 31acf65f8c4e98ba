package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig_Valid 测试默认配置有效
func TestNewConfig_Valid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.DHT.BucketSize)
	assert.Equal(t, 3, cfg.DHT.Alpha)
	assert.Equal(t, time.Minute, cfg.Auth.FreshnessWindow.Duration())
	assert.False(t, cfg.Storage.Persistent())
}

// TestFromJSON_PartialOverride 测试部分字段覆盖，其余保留默认
func TestFromJSON_PartialOverride(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"dht": {"alpha": 5, "rpc_timeout": "2s", "bootstrap_peers": ["127.0.0.1:4100"]},
		"auth": {"freshness_window": 30000000000}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.DHT.Alpha)
	assert.Equal(t, 20, cfg.DHT.BucketSize)
	assert.Equal(t, 2*time.Second, cfg.DHT.RPCTimeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Auth.FreshnessWindow.Duration())
	assert.Equal(t, []string{"127.0.0.1:4100"}, cfg.DHT.BootstrapPeers)
}

// TestFromJSON_BadDuration 测试非法时长
func TestFromJSON_BadDuration(t *testing.T) {
	_, err := FromJSON([]byte(`{"dht": {"rpc_timeout": "soon"}}`))
	assert.Error(t, err)
}

// TestValidate_Errors 测试校验失败
func TestValidate_Errors(t *testing.T) {
	tests := map[string]func(*Config){
		"alpha":     func(c *Config) { c.DHT.Alpha = 0 },
		"bucket":    func(c *Config) { c.DHT.BucketSize = -1 },
		"window":    func(c *Config) { c.Auth.FreshnessWindow = 0 },
		"listen":    func(c *Config) { c.Transport.ListenAddr = "" },
		"metrics":   func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" },
		"logformat": func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := NewConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestSaveLoad 测试配置文件读写
func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshdht.json")
	cfg := NewConfig()
	cfg.DHT.MaxRounds = 7
	cfg.Storage.DataDir = "/var/lib/meshdht"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.DHT.MaxRounds)
	assert.Equal(t, "/var/lib/meshdht/meshdht.db", loaded.Storage.DBPath())
}
