// Package engine 定义存储引擎的内部接口
//
// 本包扩展 pkg/interfaces 中的公共 Engine 接口，
// 增加前缀扫描与后台回收：
//
//	pkg/interfaces.Engine     - 公共基础接口
//	    ↓
//	engine.InternalEngine     - 内部扩展接口
package engine

import (
	"errors"
	"time"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// InternalEngine 内部扩展接口
type InternalEngine interface {
	interfaces.Engine

	// PrefixScan 按字典序遍历具有指定前缀的键
	//
	// expiresAt 为条目的 Unix 过期秒数，0 表示永不过期。
	// 回调返回 false 时停止。回调中的切片仅在本次回调内有效。
	PrefixScan(prefix []byte, fn func(key, value []byte, expiresAt uint64) bool) error

	// Start 启动后台任务（垃圾回收）
	Start() error
}

// Config 引擎配置
type Config struct {
	// Path 数据库目录，InMemory 为 true 时忽略
	Path string

	// InMemory 纯内存模式
	InMemory bool

	// SyncWrites 同步落盘
	SyncWrites bool

	// GCInterval Value Log 垃圾回收间隔，0 表示关闭
	GCInterval time.Duration

	// GCDiscardRatio 可回收比例阈值
	GCDiscardRatio float64
}

// DefaultConfig 返回指定路径的默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// MemoryConfig 返回内存模式配置
func MemoryConfig() *Config {
	return &Config{InMemory: true}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrInvalidConfig
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio >= 1 {
		return ErrInvalidConfig
	}
	return nil
}

// 存储引擎错误定义
var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("storage: key not found")

	// ErrEmptyKey 空键
	ErrEmptyKey = errors.New("storage: empty key")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("storage: engine closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("storage: invalid configuration")
)

// IsNotFound 检查是否为 key not found 错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
