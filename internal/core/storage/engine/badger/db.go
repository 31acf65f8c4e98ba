// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// 支持磁盘模式与纯内存模式；条目 TTL 直接映射为 BadgerDB 的
// entry TTL，过期条目在读取与扫描时不可见。
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
)

var logger = log.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// New 创建新的 BadgerDB 存储引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:       db,
		config:   cfg,
		gcCtx:    ctx,
		gcCancel: cancel,
	}, nil
}

// badgerLogger 将 BadgerDB 日志转到 slog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(string, ...interface{}) {}

// Start 启动存储引擎
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.GCInterval > 0 && !e.config.InMemory {
		e.startGC()
	}
	return nil
}

func (e *Engine) startGC() {
	e.gcWg.Add(1)
	go func() {
		defer e.gcWg.Done()

		ticker := time.NewTicker(e.config.GCInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.gcCtx.Done():
				return
			case <-ticker.C:
				e.runGC()
			}
		}
	}()
}

// runGC 反复回收直到没有可回收的 Value Log 文件
func (e *Engine) runGC() {
	ratio := e.config.GCDiscardRatio
	if ratio == 0 {
		ratio = 0.5
	}
	for !e.closed.Load() {
		if err := e.db.RunValueLogGC(ratio); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logger.Debug("Value Log 回收结束", "error", err)
			}
			return
		}
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.PutWithTTL(key, value, 0)
}

// PutWithTTL 设置键值对，ttl 为 0 表示永不过期
func (e *Engine) PutWithTTL(key, value []byte, ttl time.Duration) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	return convertError(err)
}

func newEntry(key, value []byte, ttl time.Duration) *badger.Entry {
	entry := badger.NewEntry(key, value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return entry
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	return convertError(err)
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	switch {
	case err == nil:
		return true, nil
	case engine.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// PrefixScan 遍历具有指定前缀的键
func (e *Engine) PrefixScan(prefix []byte, fn func(key, value []byte, expiresAt uint64) bool) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}

	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var keep bool
			err := item.Value(func(val []byte) error {
				keep = fn(item.Key(), val, item.ExpiresAt())
				return nil
			})
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
		}
		return nil
	})
}

// Close 关闭存储引擎
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.gcCancel()
	e.gcWg.Wait()

	return e.db.Close()
}

// convertError 转换 BadgerDB 错误到引擎错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}

var _ engine.InternalEngine = (*Engine)(nil)
