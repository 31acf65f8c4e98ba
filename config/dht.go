package config

import (
	"errors"
	"time"
)

// DHTConfig DHT 配置
//
// 默认值：
//   - BucketSize: 20，Alpha: 3，MaxRounds: 20
//   - RPCTimeout: 5s
//   - RefreshInterval: 10m（桶刷新），SweepInterval: 30s（过期清理）
//   - CacheSize: 10000（软缓存条目上限）
type DHTConfig struct {
	// BucketSize K 桶容量 k
	BucketSize int `json:"bucket_size"`

	// Alpha 每轮并发查询数
	Alpha int `json:"alpha"`

	// MaxRounds 查找最大轮数
	MaxRounds int `json:"max_rounds"`

	// RPCTimeout 单次 RPC 超时
	RPCTimeout Duration `json:"rpc_timeout"`

	// RefreshInterval 桶刷新间隔
	RefreshInterval Duration `json:"refresh_interval"`

	// SweepInterval 过期记录清理间隔
	SweepInterval Duration `json:"sweep_interval"`

	// CacheEvictInterval 缓存压力检查间隔
	CacheEvictInterval Duration `json:"cache_evict_interval"`

	// CacheSize 软缓存条目上限
	CacheSize int `json:"cache_size"`

	// CacheMemoryFloor 可用内存低于该值（字节）时逐出软缓存
	CacheMemoryFloor uint64 `json:"cache_memory_floor"`

	// StorageSize 正常存储条目上限，0 表示不限
	StorageSize int `json:"storage_size"`

	// ReplicationFactor 每次 store 写入的最近节点数
	ReplicationFactor int `json:"replication_factor"`

	// CacheNearest get 成功后回写缓存的节点数
	CacheNearest int `json:"cache_nearest"`

	// CacheLocally get 成功后是否写入本地缓存
	CacheLocally bool `json:"cache_locally"`

	// ValueMergeGrace 找到字典值后等待同轮其他片段的时长
	ValueMergeGrace Duration `json:"value_merge_grace"`

	// BootstrapPeers 引导节点地址
	BootstrapPeers []string `json:"bootstrap_peers,omitempty"`

	// BootstrapMaxElapsed 引导重试的总时长上限
	BootstrapMaxElapsed Duration `json:"bootstrap_max_elapsed"`

	// StatusInterval 状态报告间隔，0 表示关闭
	StatusInterval Duration `json:"status_interval"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		BucketSize:          20,
		Alpha:               3,
		MaxRounds:           20,
		RPCTimeout:          Duration(5 * time.Second),
		RefreshInterval:     Duration(10 * time.Minute),
		SweepInterval:       Duration(30 * time.Second),
		CacheEvictInterval:  Duration(30 * time.Second),
		CacheSize:           10_000,
		CacheMemoryFloor:    64 << 20,
		ReplicationFactor:   5,
		CacheNearest:        1,
		CacheLocally:        true,
		ValueMergeGrace:     Duration(100 * time.Millisecond),
		BootstrapMaxElapsed: Duration(30 * time.Second),
	}
}

// Validate 验证 DHT 配置
func (c *DHTConfig) Validate() error {
	switch {
	case c.BucketSize <= 0:
		return errors.New("dht: bucket_size must be positive")
	case c.Alpha <= 0:
		return errors.New("dht: alpha must be positive")
	case c.MaxRounds <= 0:
		return errors.New("dht: max_rounds must be positive")
	case c.RPCTimeout <= 0:
		return errors.New("dht: rpc_timeout must be positive")
	case c.ReplicationFactor <= 0:
		return errors.New("dht: replication_factor must be positive")
	case c.CacheSize < 0 || c.StorageSize < 0:
		return errors.New("dht: cache_size and storage_size cannot be negative")
	}
	return nil
}
