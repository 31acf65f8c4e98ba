// Package kv 提供带前缀隔离的记录存储
//
// 同一引擎上的不同数据按前缀分开：
//
//	d/r/ - DHT 记录（key 为 32 字节 NodeID）
//
// 过期由引擎的 TTL 负责，读取与扫描都看不到已过期的条目。
package kv

import (
	"time"

	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
)

// Store 绑定一个前缀的存储视图
type Store struct {
	eng    engine.InternalEngine
	prefix []byte
}

// New 创建前缀为 prefix 的存储视图
func New(eng engine.InternalEngine, prefix []byte) *Store {
	return &Store{eng: eng, prefix: append([]byte(nil), prefix...)}
}

func (s *Store) fullKey(key []byte) []byte {
	k := make([]byte, 0, len(s.prefix)+len(key))
	return append(append(k, s.prefix...), key...)
}

// Get 读取 key，不存在时返回 engine.ErrNotFound
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.eng.Get(s.fullKey(key))
}

// Put 写入 key；ttl <= 0 表示不过期
func (s *Store) Put(key, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.eng.Put(s.fullKey(key), value)
	}
	return s.eng.PutWithTTL(s.fullKey(key), value, ttl)
}

// Delete 删除 key，不存在时不报错
func (s *Store) Delete(key []byte) error {
	return s.eng.Delete(s.fullKey(key))
}

// Scan 按字节序遍历前缀下的全部条目，fn 返回 false 时停止
//
// 传给 fn 的 key 不含前缀，key 与 value 只在回调内有效。
func (s *Store) Scan(fn func(key, value []byte) bool) error {
	n := len(s.prefix)
	return s.eng.PrefixScan(s.prefix, func(key, value []byte, _ uint64) bool {
		return fn(key[n:], value)
	})
}

// Len 返回前缀下的条目数
func (s *Store) Len() (int, error) {
	count := 0
	err := s.Scan(func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}
