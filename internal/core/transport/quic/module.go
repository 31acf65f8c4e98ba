package quic

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Key        crypto.PrivateKey `name:"node_key"`
	UnifiedCfg *config.Config    `optional:"true"`
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.ListenAddr = cfg.Transport.ListenAddr
	c.AdvertiseAddr = cfg.Transport.AdvertiseAddr
	c.MaxMessageSize = cfg.Transport.MaxMessageSize
	c.IdleTimeout = cfg.Transport.IdleTimeout.Duration()
	return c
}

// ProvideTransport 提供 QUIC 传输
//
// 启动与关闭由持有传输的 servicer 负责。
func ProvideTransport(input ModuleInput) (interfaces.Transport, error) {
	return New(input.Key, ConfigFromUnified(input.UnifiedCfg))
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("transport/quic",
		fx.Provide(ProvideTransport),
	)
}
