package servicer

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Envelope       *auth.Envelope
	Authorizer     auth.Authorizer
	PeerAuthorizer auth.Authorizer `name:"peer_authorizer" optional:"true"`
	Transport      interfaces.Transport
	UnifiedCfg     *config.Config   `optional:"true"`
	Metrics        *metrics.Metrics `optional:"true"`
}

// OptionsFromUnified 从统一配置创建选项
func OptionsFromUnified(cfg *config.Config) Options {
	opts := Options{RPCTimeout: DefaultRPCTimeout}
	if cfg != nil && cfg.DHT.RPCTimeout > 0 {
		opts.RPCTimeout = cfg.DHT.RPCTimeout.Duration()
	}
	return opts
}

// ProvideServicer 提供 Servicer
func ProvideServicer(input ModuleInput) *Servicer {
	opts := OptionsFromUnified(input.UnifiedCfg)
	opts.Authorizer = input.Authorizer
	opts.PeerAuthorizer = input.PeerAuthorizer
	opts.Metrics = input.Metrics
	return New(input.Envelope, input.Transport, opts)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("servicer",
		fx.Provide(ProvideServicer),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, s *Servicer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				return err
			}
			logger.Info("servicer 已启动", "addr", s.LocalAddr(), "node", s.NodeID().ShortString())
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
}
