package dht

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/servicer"
	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
	"github.com/dep2p/go-meshdht/internal/core/storage/kv"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// recordPrefix 持久化记录的 key 前缀
var recordPrefix = []byte("d/r/")

// Params DHT 依赖参数
type Params struct {
	fx.In

	Servicer   *servicer.Servicer
	UnifiedCfg *config.Config         `optional:"true"`
	Metrics    *metrics.Metrics       `optional:"true"`
	Engine     engine.InternalEngine  `optional:"true"`
	Clock      clock.Clock            `optional:"true"`
	NodeKey    crypto.PrivateKey      `name:"node_key" optional:"true"`
	Validators []interfaces.Validator `group:"dht_validators"`
}

// Module 返回 DHT Fx 模块
func Module() fx.Option {
	return fx.Module("discovery_dht",
		fx.Provide(NewFromParams),
		fx.Invoke(registerDHTLifecycle),
	)
}

// ConfigFromUnified 从统一配置创建 DHT 配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	d := cfg.DHT
	c.BucketSize = d.BucketSize
	c.Alpha = d.Alpha
	c.MaxRounds = d.MaxRounds
	c.RPCTimeout = d.RPCTimeout.Duration()
	if d.RefreshInterval > 0 {
		c.RefreshInterval = d.RefreshInterval.Duration()
	}
	if d.SweepInterval > 0 {
		c.SweepInterval = d.SweepInterval.Duration()
	}
	if d.CacheEvictInterval > 0 {
		c.CacheEvictInterval = d.CacheEvictInterval.Duration()
	}
	c.CacheSize = d.CacheSize
	c.CacheMemoryFloor = d.CacheMemoryFloor
	c.StorageSize = d.StorageSize
	c.ReplicationFactor = d.ReplicationFactor
	c.CacheNearest = d.CacheNearest
	c.CacheLocally = d.CacheLocally
	c.ValueMergeGrace = d.ValueMergeGrace.Duration()
	c.BootstrapPeers = append([]string(nil), d.BootstrapPeers...)
	if d.BootstrapMaxElapsed > 0 {
		c.BootstrapMaxElapsed = d.BootstrapMaxElapsed.Duration()
	}
	c.StatusInterval = d.StatusInterval.Duration()
	return c
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (*DHT, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	cfg.Metrics = p.Metrics
	if p.Clock != nil {
		cfg.Clock = p.Clock
	}

	if p.NodeKey != nil {
		sv, err := NewSignatureValidator(p.NodeKey)
		if err != nil {
			return nil, err
		}
		cfg.Validators = append(cfg.Validators, sv)
	}
	for _, v := range p.Validators {
		if v != nil {
			cfg.Validators = append(cfg.Validators, v)
		}
	}

	if p.Engine != nil && p.UnifiedCfg != nil && p.UnifiedCfg.Storage.Persistent() {
		cfg.Persistence = kv.New(p.Engine, recordPrefix)
		logger.Info("记录存储已启用持久化", "path", p.UnifiedCfg.Storage.DBPath())
	}

	return NewWithConfig(p.Servicer, cfg)
}

// registerDHTLifecycle 注册 DHT 生命周期钩子
//
// 配置了引导节点时在启动阶段完成引导，全部不可达时启动失败。
func registerDHTLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				logger.Error("DHT 启动失败", "error", err)
				return err
			}
			if len(d.config.BootstrapPeers) == 0 {
				return nil
			}
			if err := d.Bootstrap(ctx); err != nil {
				logger.Error("DHT 引导失败", "peers", d.config.BootstrapPeers, "error", err)
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
