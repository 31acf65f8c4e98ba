package log

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZap 创建用于依赖注入框架事件输出的 zap logger
//
// debug 级别时输出开发格式日志，否则返回 Nop，避免启动期噪声。
func NewZap() *zap.Logger {
	if Level() > LevelDebug {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	l, err := cfg.Build()
	if err != nil {
		slog.Default().Warn("创建 zap logger 失败", "err", err)
		return zap.NewNop()
	}
	return l
}
