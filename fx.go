package meshdht

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/identity"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/servicer"
	"github.com/dep2p/go-meshdht/internal/core/storage"
	"github.com/dep2p/go-meshdht/internal/core/transport/quic"
	"github.com/dep2p/go-meshdht/internal/discovery/dht"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
)

var fxLogger = log.Logger("meshdht/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Identity → Auth → Metrics → Storage
//  2. Transport（QUIC 或注入的传输）→ Servicer
//  3. DHT（OnStart 时启动并引导）
//
// 生命周期钩子按加载顺序执行，停止时反向，因此 DHT 先于 Servicer 停止。
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.config),
	}

	// 注入的组件
	if o.privateKey != nil {
		key := o.privateKey
		modules = append(modules, fx.Provide(func() crypto.PrivateKey { return key }))
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	if o.stakeVerifier != nil {
		v := o.stakeVerifier
		modules = append(modules, fx.Provide(func() interfaces.StakeVerifier { return v }))
	}
	for _, v := range o.validators {
		modules = append(modules, fx.Provide(fx.Annotate(
			func() interfaces.Validator { return v },
			fx.ResultTags(`group:"dht_validators"`),
		)))
	}

	// 基础组件
	modules = append(modules,
		identity.Module(),
		auth.Module(),
		metrics.Module(),
		storage.Module(),
	)

	// 传输层
	if o.transport != nil {
		tr := o.transport
		modules = append(modules, fx.Provide(func() interfaces.Transport { return tr }))
		fxLogger.Debug("使用注入的传输", "addr", tr.LocalAddr())
	} else {
		modules = append(modules, quic.Module())
	}

	modules = append(modules,
		servicer.Module(),
		dht.Module(),
	)

	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		fx.StartTimeout(o.startTimeout),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.NewZap()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Identity *identity.Identity
	Servicer *servicer.Servicer
	DHT      *dht.DHT
	Metrics  *metrics.Metrics `optional:"true"`
}

// injectNodeComponents 将 Fx 创建的组件注入 Node
func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.identity = p.Identity
		node.svc = p.Servicer
		node.dht = p.DHT
		node.metrics = p.Metrics
	}
}
