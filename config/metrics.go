package config

import "errors"

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否暴露 /metrics
	Enabled bool `json:"enabled"`

	// ListenAddr HTTP 监听地址
	ListenAddr string `json:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{ListenAddr: "127.0.0.1:9100"}
}

// Validate 验证指标配置
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.ListenAddr == "" {
		return errors.New("metrics: listen_addr required when enabled")
	}
	return nil
}
