package badger

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
)

func testEngine(t *testing.T, inMemory bool) *Engine {
	t.Helper()

	cfg := engine.MemoryConfig()
	if !inMemory {
		cfg = engine.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	}
	e, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// TestEngine_PutGetDelete 测试基础读写删除
func TestEngine_PutGetDelete(t *testing.T) {
	for _, inMemory := range []bool{true, false} {
		e := testEngine(t, inMemory)

		require.NoError(t, e.Put([]byte("k"), []byte("v")))
		got, err := e.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)

		ok, err := e.Has([]byte("k"))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, e.Delete([]byte("k")))
		_, err = e.Get([]byte("k"))
		assert.ErrorIs(t, err, engine.ErrNotFound)

		// 删除幂等
		require.NoError(t, e.Delete([]byte("k")))
	}
	t.Log("✅ 基础读写删除正确")
}

// TestEngine_EmptyKey 测试空键
func TestEngine_EmptyKey(t *testing.T) {
	e := testEngine(t, true)
	assert.ErrorIs(t, e.Put(nil, []byte("v")), engine.ErrEmptyKey)
	_, err := e.Get(nil)
	assert.ErrorIs(t, err, engine.ErrEmptyKey)
}

// TestEngine_TTL 测试 TTL 记录带过期时间
func TestEngine_TTL(t *testing.T) {
	e := testEngine(t, true)

	before := uint64(time.Now().Unix())
	require.NoError(t, e.PutWithTTL([]byte("t/a"), []byte("1"), time.Hour))
	require.NoError(t, e.Put([]byte("t/b"), []byte("2")))

	exp := map[string]uint64{}
	require.NoError(t, e.PrefixScan([]byte("t/"), func(key, _ []byte, expiresAt uint64) bool {
		exp[string(key)] = expiresAt
		return true
	}))
	assert.GreaterOrEqual(t, exp["t/a"], before+3599)
	assert.Zero(t, exp["t/b"])
	t.Log("✅ TTL 写入正确")
}

// TestEngine_PrefixScan 测试前缀扫描有序且可中止
func TestEngine_PrefixScan(t *testing.T) {
	e := testEngine(t, true)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put([]byte(fmt.Sprintf("p/%d", i)), []byte{byte(i)}))
	}
	require.NoError(t, e.Put([]byte("q/0"), []byte{9}))

	var keys []string
	require.NoError(t, e.PrefixScan([]byte("p/"), func(key, _ []byte, _ uint64) bool {
		keys = append(keys, string(key))
		return len(keys) < 3
	}))
	assert.Equal(t, []string{"p/0", "p/1", "p/2"}, keys)
}

// TestEngine_Persistence 测试磁盘模式重启后数据仍在
func TestEngine_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	e, err := New(engine.DefaultConfig(path))
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)

	e2, err := New(engine.DefaultConfig(path))
	require.NoError(t, err)
	defer e2.Close()
	got, err := e2.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	t.Log("✅ 重启后数据恢复")
}

// TestConfig_Validate 测试配置校验
func TestConfig_Validate(t *testing.T) {
	_, err := New(&engine.Config{})
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
	_, err = New(nil)
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}
