// Package config 提供 meshdht 的统一配置
//
// 配置为单个 JSON 文档，按组件划分：
//
//	{
//	  "identity":  {"key_file": "node.key"},
//	  "transport": {"listen_addr": "0.0.0.0:4100"},
//	  "dht":       {"bucket_size": 20, "alpha": 3, "bootstrap_peers": ["1.2.3.4:4100"]},
//	  "auth":      {"freshness_window": "60s"},
//	  "storage":   {"data_dir": "./data"},
//	  "metrics":   {"enabled": true, "listen_addr": "127.0.0.1:9100"},
//	  "log":       {"level": "info"}
//	}
//
// 各组件再通过自身的 ConfigFromUnified 转换为内部配置。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config meshdht 完整配置
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// DHT DHT 配置
	DHT DHTConfig `json:"dht"`

	// Auth 认证配置
	Auth AuthConfig `json:"auth"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// Log 日志配置
	Log LogConfig `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		DHT:       DefaultDHTConfig(),
		Auth:      DefaultAuthConfig(),
		Storage:   DefaultStorageConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
	}
}

// Validate 验证全部子配置
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	validators := []interface{ Validate() error }{
		&c.Identity, &c.Transport, &c.DHT, &c.Auth, &c.Storage, &c.Metrics, &c.Log,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromJSON 从 JSON 创建配置，未出现的字段保留默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load 从文件加载并验证配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save 将配置写入文件
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
