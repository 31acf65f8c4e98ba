package dht

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/storage/kv"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// 默认参数
const (
	// DefaultBucketSize K 桶容量
	DefaultBucketSize = 20

	// DefaultAlpha 每轮并发查询数
	DefaultAlpha = 3

	// DefaultMaxRounds 查找最大轮数
	DefaultMaxRounds = 20
)

// Config DHT 配置
type Config struct {
	// BucketSize K 桶容量 k，也是查找结果的最大长度
	BucketSize int

	// Alpha 每轮并发查询数
	Alpha int

	// MaxRounds 查找最大轮数
	MaxRounds int

	// RPCTimeout 单次 RPC 超时（ping-before-evict 也使用该值）
	RPCTimeout time.Duration

	// RefreshInterval 桶超过该时长未刷新时执行随机查找
	RefreshInterval time.Duration

	// SweepInterval 过期记录清理间隔
	SweepInterval time.Duration

	// CacheEvictInterval 缓存压力检查间隔
	CacheEvictInterval time.Duration

	// CacheSize 软缓存条目上限
	CacheSize int

	// CacheMemoryFloor 系统可用内存低于该值（字节）时逐出一半软缓存，0 表示不检查
	CacheMemoryFloor uint64

	// StorageSize 正常存储条目上限，0 表示不限
	StorageSize int

	// ReplicationFactor 每次 Store 写入的最近节点数
	ReplicationFactor int

	// CacheNearest Get 成功后回写缓存的节点数
	CacheNearest int

	// CacheLocally Get 成功后是否写入本地缓存
	CacheLocally bool

	// ValueMergeGrace 找到字典值后等待同轮其他响应的时长
	ValueMergeGrace time.Duration

	// BootstrapPeers 引导节点地址
	BootstrapPeers []string

	// BootstrapMaxElapsed 单个引导节点的重试总时长
	BootstrapMaxElapsed time.Duration

	// StatusInterval 状态报告间隔，0 表示关闭
	StatusInterval time.Duration

	// Clock 时钟（测试时注入 clock.NewMock()）
	Clock clock.Clock

	// Validators 记录校验链
	Validators []interfaces.Validator

	// Persistence 正常存储的持久化后端，为 nil 时仅内存
	Persistence *kv.Store

	// Metrics 指标，可为 nil
	Metrics *metrics.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BucketSize:          DefaultBucketSize,
		Alpha:               DefaultAlpha,
		MaxRounds:           DefaultMaxRounds,
		RPCTimeout:          5 * time.Second,
		RefreshInterval:     10 * time.Minute,
		SweepInterval:       30 * time.Second,
		CacheEvictInterval:  30 * time.Second,
		CacheSize:           10_000,
		CacheMemoryFloor:    64 << 20,
		ReplicationFactor:   5,
		CacheNearest:        1,
		CacheLocally:        true,
		ValueMergeGrace:     100 * time.Millisecond,
		BootstrapMaxElapsed: 30 * time.Second,
		Clock:               clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("bucket size must be positive")
	}

	if c.Alpha <= 0 {
		return errors.New("alpha must be positive")
	}

	if c.MaxRounds <= 0 {
		return errors.New("max rounds must be positive")
	}

	if c.RPCTimeout <= 0 {
		return errors.New("rpc timeout must be positive")
	}

	if c.RefreshInterval <= 0 {
		return errors.New("refresh interval must be positive")
	}

	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	if c.CacheEvictInterval <= 0 {
		return errors.New("cache evict interval must be positive")
	}

	if c.CacheSize < 0 || c.StorageSize < 0 {
		return errors.New("storage sizes must not be negative")
	}

	if c.ReplicationFactor <= 0 {
		return errors.New("replication factor must be positive")
	}

	if c.CacheNearest < 0 {
		return errors.New("cache nearest must not be negative")
	}

	if c.Clock == nil {
		return errors.New("clock is required")
	}

	return nil
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// WithBucketSize 设置K-桶大小
func WithBucketSize(size int) ConfigOption {
	return func(c *Config) {
		c.BucketSize = size
	}
}

// WithAlpha 设置并发查询参数
func WithAlpha(alpha int) ConfigOption {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithMaxRounds 设置查找最大轮数
func WithMaxRounds(rounds int) ConfigOption {
	return func(c *Config) {
		c.MaxRounds = rounds
	}
}

// WithRPCTimeout 设置单次 RPC 超时
func WithRPCTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RPCTimeout = timeout
	}
}

// WithRefreshInterval 设置刷新间隔
func WithRefreshInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.RefreshInterval = interval
	}
}

// WithSweepInterval 设置过期清理间隔
func WithSweepInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.SweepInterval = interval
	}
}

// WithCacheSize 设置软缓存上限
func WithCacheSize(size int) ConfigOption {
	return func(c *Config) {
		c.CacheSize = size
	}
}

// WithCacheMemoryFloor 设置触发软缓存逐出的可用内存下限
func WithCacheMemoryFloor(bytes uint64) ConfigOption {
	return func(c *Config) {
		c.CacheMemoryFloor = bytes
	}
}

// WithCacheEvictInterval 设置缓存压力检查间隔
func WithCacheEvictInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.CacheEvictInterval = interval
	}
}

// WithReplicationFactor 设置复制因子
func WithReplicationFactor(n int) ConfigOption {
	return func(c *Config) {
		c.ReplicationFactor = n
	}
}

// WithCacheLocally 设置 Get 成功后是否写入本地缓存
func WithCacheLocally(enabled bool) ConfigOption {
	return func(c *Config) {
		c.CacheLocally = enabled
	}
}

// WithBootstrapPeers 设置引导节点
func WithBootstrapPeers(addrs []string) ConfigOption {
	return func(c *Config) {
		c.BootstrapPeers = addrs
	}
}

// WithBootstrapMaxElapsed 设置单个引导节点的重试总时长
func WithBootstrapMaxElapsed(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.BootstrapMaxElapsed = d
	}
}

// WithCacheNearest 设置 Get 成功后回写缓存的节点数
func WithCacheNearest(n int) ConfigOption {
	return func(c *Config) {
		c.CacheNearest = n
	}
}

// WithStatusInterval 设置状态报告间隔
func WithStatusInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		c.StatusInterval = interval
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithValidators 追加记录校验器
func WithValidators(vs ...interfaces.Validator) ConfigOption {
	return func(c *Config) {
		c.Validators = append(c.Validators, vs...)
	}
}

// WithPersistence 设置持久化后端
func WithPersistence(store *kv.Store) ConfigOption {
	return func(c *Config) {
		c.Persistence = store
	}
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}
