package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
	"github.com/dep2p/go-meshdht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 Storage Fx 模块
//
// 提供 engine.InternalEngine；OnStart 启动 GC，OnStop 关闭引擎。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// ConfigFromUnified 从统一配置创建引擎配置
func ConfigFromUnified(cfg *config.Config) *engine.Config {
	if cfg == nil || !cfg.Storage.Persistent() {
		return engine.MemoryConfig()
	}
	ec := engine.DefaultConfig(cfg.Storage.DBPath())
	ec.SyncWrites = cfg.Storage.SyncWrites
	ec.GCInterval = cfg.Storage.GCInterval.Duration()
	return ec
}

// ProvideEngine 提供存储引擎
func ProvideEngine(p Params) (engine.InternalEngine, error) {
	return NewEngine(ConfigFromUnified(p.UnifiedCfg))
}

func registerLifecycle(lc fx.Lifecycle, eng engine.InternalEngine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				logger.Error("存储引擎启动失败", "error", err)
				return err
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg *engine.Config) (engine.InternalEngine, error) {
	logger.Debug("创建存储引擎", "path", cfg.Path, "inMemory", cfg.InMemory)
	eng, err := badger.New(cfg)
	if err != nil {
		logger.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}
