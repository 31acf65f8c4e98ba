package config

import "path/filepath"

// StorageConfig 存储配置
//
// DataDir 非空时记录存储镜像到 BadgerDB，重启后恢复：
//
//	${DataDir}/
//	└── meshdht.db/     # BadgerDB 数据库
type StorageConfig struct {
	// DataDir 数据目录，为空表示仅内存存储
	DataDir string `json:"data_dir,omitempty"`

	// SyncWrites 每次写入是否同步落盘
	SyncWrites bool `json:"sync_writes"`

	// GCInterval Value Log 垃圾回收间隔
	GCInterval Duration `json:"gc_interval"`
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		GCInterval: Duration(10 * 60e9),
	}
}

// Validate 验证存储配置
func (c *StorageConfig) Validate() error {
	return nil
}

// Persistent 是否启用持久化
func (c *StorageConfig) Persistent() bool {
	return c.DataDir != ""
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "meshdht.db")
}
