package config

import "errors"

// TransportConfig 传输层配置
type TransportConfig struct {
	// ListenAddr QUIC 监听地址（host:port）
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr 对外公布地址，为空时使用实际监听地址
	AdvertiseAddr string `json:"advertise_addr,omitempty"`

	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int `json:"max_message_size"`

	// IdleTimeout 连接空闲超时
	IdleTimeout Duration `json:"idle_timeout"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:     "0.0.0.0:4100",
		MaxMessageSize: 4 << 20,
		IdleTimeout:    Duration(60e9),
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("transport: listen_addr cannot be empty")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("transport: max_message_size must be positive")
	}
	return nil
}
