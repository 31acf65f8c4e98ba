// Package log 提供 meshdht 统一日志接口
//
// 基于 Go 标准库 log/slog 封装。各组件通过 Logger(component) 获取
// LazyLogger，每次调用时读取当前默认 handler，因此可在运行时切换
// 输出目标与级别。
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// 全局级别，所有由 Setup 创建的 handler 共享
var level = new(slog.LevelVar)

// Format 日志输出格式
type Format string

const (
	// FormatText key=value 文本格式
	FormatText Format = "text"
	// FormatJSON JSON 格式
	FormatJSON Format = "json"
)

// Options 日志初始化选项
type Options struct {
	// Level 日志级别（debug/info/warn/error）
	Level string
	// Format 输出格式
	Format Format
	// Output 输出目标，为 nil 时使用 os.Stderr
	Output io.Writer
}

// Setup 按选项重建默认 logger
func Setup(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	level.Set(lvl)

	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	case FormatText, "":
		h = slog.NewTextHandler(w, hopts)
	default:
		return fmt.Errorf("log: unknown format %q", opts.Format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ParseLevel 解析级别字符串，空串视为 info
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level %q", s)
}

// SetLevel 动态调整日志级别
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level 返回当前日志级别
func Level() slog.Level {
	return level.Level()
}

// SetOutput 将默认 logger 重定向到 w（文本格式，保留当前级别）
func SetOutput(w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 使用方式：
//
//	var logger = log.Logger("discovery/dht")
//	logger.Info("DHT 启动成功", "nodeID", id.ShortString())
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) get() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) { l.get().Debug(msg, args...) }

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) { l.get().Info(msg, args...) }

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) { l.get().Warn(msg, args...) }

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) { l.get().Error(msg, args...) }

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.get().DebugContext(ctx, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.get().WarnContext(ctx, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.get().With(args...)
}

// Enabled 判断级别是否启用，用于跳过昂贵的日志参数构造
func (l *LazyLogger) Enabled(lvl slog.Level) bool {
	return slog.Default().Enabled(context.Background(), lvl)
}

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	level.Set(LevelInfo)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
