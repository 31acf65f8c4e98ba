package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/internal/core/storage/engine"
	"github.com/dep2p/go-meshdht/internal/core/storage/kv"
)

// TestModule_Memory 测试未配置数据目录时使用内存引擎
func TestModule_Memory(t *testing.T) {
	var eng engine.InternalEngine
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()
	defer app.RequireStop()

	store := kv.New(eng, []byte("d/r/"))
	require.NoError(t, store.Put([]byte("k"), []byte("v"), 0))
	got, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	t.Log("✅ 内存引擎可用")
}

// TestModule_Persistent 测试配置数据目录后的持久化
func TestModule_Persistent(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	ec := ConfigFromUnified(cfg)
	assert.False(t, ec.InMemory)
	assert.Equal(t, cfg.Storage.DBPath(), ec.Path)

	var eng engine.InternalEngine
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()
	require.NoError(t, eng.Put([]byte("k"), []byte("v")))
	app.RequireStop()

	eng2, err := NewEngine(ec)
	require.NoError(t, err)
	defer eng2.Close()
	ok, err := eng2.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
}
