package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
	"github.com/dep2p/go-meshdht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-meshdht/internal/core/storage/kv"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/types"
	"github.com/dep2p/go-meshdht/tests/mocks"
)

func newTestStore(t *testing.T, cfg StoreConfig) (*RecordStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(time.Hour)
	cfg.Clock = clk
	s, err := NewRecordStore(cfg)
	require.NoError(t, err)
	return s, clk
}

func at(clk clock.Clock, d time.Duration) types.DHTTime {
	return types.ToDHTTime(clk.Now().Add(d))
}

// TestRecordStore_ReplaceOnlyIfNewer 测试仅当过期时间严格更大时替换
func TestRecordStore_ReplaceOnlyIfNewer(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	key := types.KeyID([]byte("k"))
	t1 := at(clk, 10*time.Second)

	assert.True(t, s.Put(key, nil, []byte("v1"), t1, false))
	assert.False(t, s.Put(key, nil, []byte("v2"), t1, false), "相同过期时间不替换")
	assert.False(t, s.Put(key, nil, []byte("v3"), t1-1, false), "更早过期时间不替换")

	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v.Regular)
	assert.Equal(t, t1, v.ExpirationTime)

	t2 := t1 + 5
	assert.True(t, s.Put(key, nil, []byte("v4"), t2, false))
	v, _ = s.Get(key)
	assert.Equal(t, []byte("v4"), v.Regular)
	assert.Equal(t, t2, v.ExpirationTime)

	t.Log("✅ 替换规则正确")
}

// TestRecordStore_RejectExpired 测试拒绝已过期的写入
func TestRecordStore_RejectExpired(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	key := types.KeyID([]byte("k"))

	assert.False(t, s.Put(key, nil, []byte("v"), at(clk, -time.Second), false))
	_, ok := s.Get(key)
	assert.False(t, ok)

	t.Log("✅ 已过期写入被拒绝")
}

// TestRecordStore_Dictionary 测试字典子键独立过期
func TestRecordStore_Dictionary(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	key := types.KeyID([]byte("dict"))
	t1 := at(clk, 10*time.Second)
	t2 := at(clk, 20*time.Second)

	require.True(t, s.Put(key, []byte("a"), []byte("va"), t1, false))
	require.True(t, s.Put(key, []byte("b"), []byte("vb"), t2, false))
	assert.False(t, s.Put(key, []byte("a"), []byte("old"), t1, false))

	v, ok := s.Get(key)
	require.True(t, ok)
	require.True(t, v.IsDictionary())
	assert.Equal(t, t2, v.ExpirationTime, "latest_expiration_time 为最大子键过期时间")
	a, ok := v.Subkey([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("va"), a.Value)
	assert.Equal(t, t1, a.ExpirationTime)

	// a 过期后 b 仍可读
	clk.Add(15 * time.Second)
	s.Sweep()
	v, ok = s.Get(key)
	require.True(t, ok)
	_, ok = v.Subkey([]byte("a"))
	assert.False(t, ok)
	b, ok := v.Subkey([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("vb"), b.Value)

	clk.Add(10 * time.Second)
	assert.Greater(t, s.Sweep(), 0)
	_, ok = s.Get(key)
	assert.False(t, ok)

	t.Log("✅ 字典记录正确")
}

// TestRecordStore_RegularVsDictionary 测试普通记录与字典互相覆盖
func TestRecordStore_RegularVsDictionary(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	key := types.KeyID([]byte("mixed"))

	require.True(t, s.Put(key, nil, []byte("plain"), at(clk, 10*time.Second), false))
	assert.False(t, s.Put(key, []byte("a"), []byte("va"), at(clk, 5*time.Second), false))
	assert.True(t, s.Put(key, []byte("a"), []byte("va"), at(clk, 15*time.Second), false))

	v, ok := s.Get(key)
	require.True(t, ok)
	assert.True(t, v.IsDictionary())

	t.Log("✅ 记录类型覆盖规则正确")
}

// TestRecordStore_Validator 测试校验链拒绝时不修改存储
func TestRecordStore_Validator(t *testing.T) {
	reject := NewPredicateValidator(func(rec *interfaces.Record) bool {
		return string(rec.Value) != "bad"
	}, 0)
	s, clk := newTestStore(t, StoreConfig{Validator: NewCompositeValidator(reject)})
	key := types.KeyID([]byte("k"))

	assert.False(t, s.Put(key, nil, []byte("bad"), at(clk, time.Minute), false))
	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.True(t, s.Put(key, nil, []byte("good"), at(clk, time.Minute), false))

	t.Log("✅ 校验链生效")
}

// TestRecordStore_ValidatorSeesRecord 测试校验器收到完整记录，且过期写入不触发校验
func TestRecordStore_ValidatorSeesRecord(t *testing.T) {
	v := &mocks.MockValidator{
		ValidateFunc: func(rec *interfaces.Record) bool {
			return string(rec.Subkey) != "blocked"
		},
	}
	s, clk := newTestStore(t, StoreConfig{Validator: v})
	key := types.KeyID([]byte("dict"))
	exp := at(clk, time.Minute)

	assert.True(t, s.Put(key, []byte("a"), []byte("1"), exp, false))
	assert.False(t, s.Put(key, []byte("blocked"), []byte("2"), exp, false))
	assert.False(t, s.Put(key, []byte("b"), []byte("3"), at(clk, -time.Second), false))
	require.Equal(t, 2, v.ValidateCount())

	first := v.ValidateCalls[0]
	assert.Equal(t, key[:], first.Key)
	assert.Equal(t, []byte("a"), first.Subkey)
	assert.Equal(t, []byte("1"), first.Value)
	assert.Equal(t, exp, first.ExpirationTime)

	got, ok := s.Get(key)
	require.True(t, ok)
	require.True(t, got.IsDictionary())
	assert.Equal(t, 1, got.Dictionary.Len())

	t.Log("✅ 校验器收到完整记录")
}

// TestRecordStore_Sweep 测试过期清理
func TestRecordStore_Sweep(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	for i := 0; i < 5; i++ {
		key := types.KeyID([]byte{byte(i)})
		require.True(t, s.Put(key, nil, []byte("v"), at(clk, time.Duration(i+1)*time.Second), i%2 == 0))
	}
	stored, cached := s.Len()
	assert.Equal(t, 2, stored)
	assert.Equal(t, 3, cached)

	clk.Add(3500 * time.Millisecond)
	assert.Equal(t, 3, s.Sweep())
	stored, cached = s.Len()
	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, cached)

	t.Log("✅ 过期清理正确")
}

// TestRecordStore_CacheEviction 测试软缓存按最早过期逐出
func TestRecordStore_CacheEviction(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{CacheSize: 3})
	keys := make([]types.NodeID, 5)
	for i := range keys {
		keys[i] = types.KeyID([]byte{byte(i)})
		// 过期时间与写入顺序相反：keys[4] 最早过期
		require.True(t, s.Put(keys[i], nil, []byte("v"), at(clk, time.Duration(10-i)*time.Second), true))
	}

	_, cached := s.Len()
	assert.Equal(t, 3, cached)
	_, ok := s.Get(keys[0])
	assert.True(t, ok, "最晚过期的记录保留")
	_, ok = s.Get(keys[4])
	assert.False(t, ok)

	assert.Equal(t, 1, s.EvictCache(1))
	_, ok = s.Get(keys[2])
	assert.False(t, ok, "再逐出最早过期的一条")
	assert.Equal(t, 2, s.EvictCache(10))

	t.Log("✅ 软缓存逐出正确")
}

// TestRecordStore_StorageSize 测试正常存储满时拒绝新 key
func TestRecordStore_StorageSize(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{StorageSize: 1})
	k1 := types.KeyID([]byte("1"))
	k2 := types.KeyID([]byte("2"))

	assert.True(t, s.Put(k1, nil, []byte("v"), at(clk, time.Minute), false))
	assert.False(t, s.Put(k2, nil, []byte("v"), at(clk, time.Minute), false))
	assert.True(t, s.Put(k1, nil, []byte("v2"), at(clk, 2*time.Minute), false), "已有 key 可以更新")

	t.Log("✅ 存储上限正确")
}

// TestRecordStore_CachePreferredWhenLater 测试软缓存过期更晚时优先返回
func TestRecordStore_CachePreferredWhenLater(t *testing.T) {
	s, clk := newTestStore(t, StoreConfig{})
	key := types.KeyID([]byte("k"))

	require.True(t, s.Put(key, nil, []byte("stored"), at(clk, time.Minute), false))
	require.True(t, s.Put(key, nil, []byte("cached"), at(clk, 2*time.Minute), true))

	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), v.Regular)

	v, ok = s.GetLocal(key)
	require.True(t, ok)
	assert.Equal(t, []byte("stored"), v.Regular)

	t.Log("✅ 缓存优先规则正确")
}

// TestRecordStore_Persistence 测试持久化与重启加载
func TestRecordStore_Persistence(t *testing.T) {
	eng, err := badger.New(engine.MemoryConfig())
	require.NoError(t, err)
	defer eng.Close()
	persist := kv.New(eng, []byte("d/r/"))

	clk := clock.NewMock()
	clk.Add(time.Hour)
	s, err := NewRecordStore(StoreConfig{Clock: clk, Persistence: persist})
	require.NoError(t, err)

	regular := types.KeyID([]byte("regular"))
	dict := types.KeyID([]byte("dict"))
	short := types.KeyID([]byte("short"))
	cached := types.KeyID([]byte("cached"))
	require.True(t, s.Put(regular, nil, []byte("v"), at(clk, time.Hour), false))
	require.True(t, s.Put(dict, []byte("a"), []byte("va"), at(clk, time.Hour), false))
	require.True(t, s.Put(dict, []byte("b"), []byte("vb"), at(clk, 2*time.Hour), false))
	require.True(t, s.Put(short, nil, []byte("v"), at(clk, 10*time.Second), false))
	require.True(t, s.Put(cached, nil, []byte("v"), at(clk, time.Hour), true))

	clk.Add(time.Minute)
	reloaded, err := NewRecordStore(StoreConfig{Clock: clk, Persistence: persist})
	require.NoError(t, err)

	v, ok := reloaded.Get(regular)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v.Regular)

	v, ok = reloaded.Get(dict)
	require.True(t, ok)
	require.True(t, v.IsDictionary())
	assert.Equal(t, 2, v.Dictionary.Len())

	_, ok = reloaded.Get(short)
	assert.False(t, ok, "过期记录不加载")
	_, ok = reloaded.Get(cached)
	assert.False(t, ok, "软缓存不持久化")

	t.Log("✅ 持久化正确")
}

// TestMergeValues 测试查找结果合并
func TestMergeValues(t *testing.T) {
	d1 := NewDictionary()
	d1.Store([]byte("a"), []byte("a1"), 10)
	d1.Store([]byte("b"), []byte("b1"), 30)
	d2 := NewDictionary()
	d2.Store([]byte("a"), []byte("a2"), 20)
	d2.Store([]byte("c"), []byte("c2"), 5)

	merged := mergeValues(
		&Value{Dictionary: d1, ExpirationTime: 30},
		&Value{Dictionary: d2, ExpirationTime: 20},
	)
	require.True(t, merged.IsDictionary())
	assert.Equal(t, 3, merged.Dictionary.Len())
	a, _ := merged.Subkey([]byte("a"))
	assert.Equal(t, []byte("a2"), a.Value, "子键保留最晚过期的值")
	assert.Equal(t, types.DHTTime(30), merged.ExpirationTime)

	r := mergeValues(&Value{Regular: []byte("old"), ExpirationTime: 1}, &Value{Regular: []byte("new"), ExpirationTime: 2})
	assert.Equal(t, []byte("new"), r.Regular)
	assert.Nil(t, mergeValues(nil, nil))

	t.Log("✅ 合并规则正确")
}
