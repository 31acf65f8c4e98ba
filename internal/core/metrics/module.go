package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
//
// 未启用时提供 nil *Metrics，各组件按 nil 跳过记录。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideMetrics),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideMetrics 按配置创建指标集合
func ProvideMetrics(p Params) *Metrics {
	if p.UnifiedCfg == nil || !p.UnifiedCfg.Metrics.Enabled {
		return nil
	}
	return New()
}

func registerLifecycle(lc fx.Lifecycle, m *Metrics, p Params) {
	if m == nil {
		return
	}
	srv := NewServer(m, p.UnifiedCfg.Metrics.ListenAddr)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return srv.Start() },
		OnStop:  srv.Stop,
	})
}
