package interfaces

import "time"

// Engine 存储引擎基础接口
//
// 线程安全：实现必须保证所有方法的线程安全性。
type Engine interface {
	// Get 获取指定键的值
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// PutWithTTL 设置键值对，ttl 到期后自动失效
	PutWithTTL(key, value []byte, ttl time.Duration) error

	// Delete 删除指定键（幂等）
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Close 关闭存储引擎
	Close() error
}
