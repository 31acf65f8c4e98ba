package dht

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spaolacci/murmur3"

	"github.com/dep2p/go-meshdht/internal/core/storage/kv"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// lockStripes 写入锁分片数
const lockStripes = 256

// StoreConfig 记录存储配置
type StoreConfig struct {
	// CacheSize 软缓存条目上限，0 表示不限
	CacheSize int

	// StorageSize 正常存储条目上限，0 表示不限；满时拒绝新 key
	StorageSize int

	// Clock 时钟
	Clock clock.Clock

	// Validator 校验链，为 nil 时接受全部记录
	Validator interfaces.Validator

	// Persistence 正常存储的持久化后端
	Persistence *kv.Store
}

// RecordStore 记录存储
//
// 正常存储（storage）只在过期后清理；软缓存（cache）在容量或内存压力下
// 可以提前逐出，优先逐出最早过期的记录。
//
// 同一 (key, subkey) 的校验与写入由分片锁串行化，比较并替换在存储锁内原子完成。
type RecordStore struct {
	clk       clock.Clock
	validator interfaces.Validator
	persist   *kv.Store

	mu      sync.RWMutex
	storage *timedStorage
	cache   *timedStorage

	writeLocks   [lockStripes]sync.Mutex
	persistLocks [lockStripes]sync.Mutex
}

// NewRecordStore 创建记录存储；配置了持久化时加载未过期的记录
func NewRecordStore(cfg StoreConfig) (*RecordStore, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	s := &RecordStore{
		clk:       cfg.Clock,
		validator: cfg.Validator,
		persist:   cfg.Persistence,
		storage:   newTimedStorage(cfg.StorageSize, false),
		cache:     newTimedStorage(cfg.CacheSize, true),
	}
	if s.persist != nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *RecordStore) now() types.DHTTime {
	return types.ToDHTTime(s.clk.Now())
}

func stripe(parts ...[]byte) uint32 {
	h := murmur3.New32()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum32() % lockStripes
}

// Put 校验并写入一条记录
//
// subkey 为空表示普通记录。返回 false 表示被校验链拒绝、已过期、
// 不比已有记录更新或存储已满。
func (s *RecordStore) Put(key types.NodeID, subkey, value []byte, exp types.DHTTime, inCache bool) bool {
	if math.IsNaN(exp) || exp < s.now() {
		return false
	}

	l := &s.writeLocks[stripe(key[:], subkey)]
	l.Lock()
	defer l.Unlock()

	if s.validator != nil {
		rec := &interfaces.Record{Key: key[:], Subkey: subkey, Value: value, ExpirationTime: exp}
		if !s.validator.Validate(rec) {
			logger.Debug("记录未通过校验", "key", key.ShortString(), "dictionary", len(subkey) > 0)
			return false
		}
	}

	s.mu.Lock()
	target := s.storage
	if inCache {
		target = s.cache
	}
	now := s.now()
	var ok bool
	if len(subkey) == 0 {
		ok = target.storeRegular(key, value, exp, now)
	} else {
		ok = target.storeSubkey(key, subkey, value, exp, now)
	}
	s.mu.Unlock()

	if ok && !inCache {
		s.persistKey(key)
	}
	return ok
}

// Get 读取记录
//
// 软缓存中的记录比正常存储中的更晚过期时优先返回。已过期的记录与子键不会返回。
func (s *RecordStore) Get(key types.NodeID) (*Value, bool) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	item := s.storage.get(key, now)
	if cached := s.cache.get(key, now); cached != nil && (item == nil || cached.exp > item.exp) {
		item = cached
	}
	return itemValue(item, now)
}

// GetLocal 只读取正常存储
func (s *RecordStore) GetLocal(key types.NodeID) (*Value, bool) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return itemValue(s.storage.get(key, now), now)
}

func itemValue(item *storedItem, now types.DHTTime) (*Value, bool) {
	if item == nil {
		return nil, false
	}
	if item.dict == nil {
		return &Value{Regular: item.regular, ExpirationTime: item.exp}, true
	}
	d := item.dict.clone(now)
	if d.Len() == 0 {
		return nil, false
	}
	return &Value{Dictionary: d, ExpirationTime: d.LatestExpiration()}, true
}

// Sweep 清理过期记录与过期子键，返回清理数量
func (s *RecordStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	expired := s.storage.removeExpired(now)
	changed, pruned := s.storage.pruneDictionaries(now)
	cacheExpired := s.cache.removeExpired(now)
	_, cachePruned := s.cache.pruneDictionaries(now)
	s.mu.Unlock()

	for _, key := range expired {
		s.persistKey(key)
	}
	for _, key := range changed {
		s.persistKey(key)
	}

	total := len(expired) + pruned + len(cacheExpired) + cachePruned
	if total > 0 {
		logger.Debug("清理过期记录", "storage", len(expired), "subkeys", pruned+cachePruned, "cache", len(cacheExpired))
	}
	return total
}

// EvictCache 从软缓存中逐出 n 条最早过期的记录
func (s *RecordStore) EvictCache(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for evicted < n {
		if _, ok := s.cache.popEarliest(); !ok {
			break
		}
		evicted++
	}
	return evicted
}

// Len 返回正常存储与软缓存的记录数
func (s *RecordStore) Len() (storage, cache int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.len(), s.cache.len()
}

// ============================================================================
//                              持久化
// ============================================================================

// persistKey 将 key 的当前状态写入持久化后端
//
// 每次都重新读取内存中的状态，同一 key 的写入按分片锁排序。
func (s *RecordStore) persistKey(key types.NodeID) {
	if s.persist == nil {
		return
	}

	l := &s.persistLocks[stripe(key[:])]
	l.Lock()
	defer l.Unlock()

	now := s.now()
	s.mu.RLock()
	v, ok := itemValue(s.storage.get(key, now), now)
	s.mu.RUnlock()

	var err error
	if !ok {
		err = s.persist.Delete(key[:])
	} else {
		var r pb.FindResult
		v.toFindResult(&r)
		ttl := types.FromDHTTime(v.ExpirationTime).Sub(s.clk.Now())
		if ttl < time.Second {
			ttl = time.Second
		}
		err = s.persist.Put(key[:], r.Marshal(), ttl)
	}
	if err != nil {
		logger.Warn("记录持久化失败", "key", key.ShortString(), "error", err)
	}
}

// load 从持久化后端加载记录
func (s *RecordStore) load() error {
	now := s.now()
	loaded, skipped := 0, 0

	err := s.persist.Scan(func(rawKey, raw []byte) bool {
		key, err := types.NodeIDFromBytes(rawKey)
		if err != nil {
			skipped++
			return true
		}
		var r pb.FindResult
		if err := r.Unmarshal(raw); err != nil {
			skipped++
			return true
		}
		v, err := valueFromFindResult(&r)
		if err != nil || v == nil || v.ExpirationTime < now {
			skipped++
			return true
		}

		item := &storedItem{exp: v.ExpirationTime}
		if v.IsDictionary() {
			item.dict = v.Dictionary
		} else {
			item.regular = append([]byte(nil), v.Regular...)
		}
		s.storage.set(key, item)
		loaded++
		return true
	})
	if err != nil {
		return err
	}

	logger.Info("已加载持久化记录", "loaded", loaded, "skipped", skipped)
	return nil
}
