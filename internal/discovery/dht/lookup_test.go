package dht

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/internal/core/transport/memory"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// link 让 a 与 b 互相加入路由表
func link(t *testing.T, a, b *DHT) {
	t.Helper()
	_, err := a.Protocol().CallPing(context.Background(), b.LocalAddr(), b.NodeID(), false)
	require.NoError(t, err)
}

func containsContact(cs []*types.Contact, id types.NodeID) bool {
	for _, c := range cs {
		if c.ID == id {
			return true
		}
	}
	return false
}

// TestLookup_FailedContactDropped 测试出错的节点只查询一次且不被逐出路由表
func TestLookup_FailedContactDropped(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	local := newTestNode(t, net, clk)
	hub := newTestNode(t, net, clk)
	link(t, local, hub)
	for i := 0; i < 4; i++ {
		link(t, newTestNode(t, net, clk), hub)
	}

	var calls atomic.Int32
	broken := net.NewTransport("")
	broken.SetHandler(func(context.Context, string, string, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("broken")
	})
	require.NoError(t, broken.Start(context.Background()))
	t.Cleanup(func() { _ = broken.Close() })

	// 两边都知道这个节点，hub 的每次响应都会把它作为最近节点返回
	brokenID := types.RandomNodeID()
	local.RoutingTable().AddOrRefresh(types.NewContact(brokenID, broken.LocalAddr(), clk.Now()))
	hub.RoutingTable().AddOrRefresh(types.NewContact(brokenID, broken.LocalAddr(), clk.Now()))

	q := newIterativeLookup(local, brokenID, false)
	res, err := q.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "同一次查找内不重试")
	assert.Contains(t, q.failed, brokenID)
	assert.False(t, containsContact(res.Nearest, brokenID))
	assert.True(t, containsContact(res.Nearest, hub.NodeID()))
	_, ok := local.RoutingTable().Get(brokenID)
	assert.True(t, ok, "查找失败不修改路由表")

	t.Log("✅ 失败节点被移出本次查找")
}

// TestLookup_MaxRounds 测试查找轮数上限
func TestLookup_MaxRounds(t *testing.T) {
	nodes, net, clk := newCluster(t, 12)
	local := newTestNode(t, net, clk, WithAlpha(1), WithMaxRounds(1))
	link(t, local, nodes[0])

	target := nodes[11].NodeID()
	q := newIterativeLookup(local, target, false)
	res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, q.queried, 1)

	// 不限轮数时能找到目标
	found, err := nodes[1].FindNode(context.Background(), target)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, target, found[0].ID)

	t.Log("✅ 轮数上限生效")
}

// TestLookup_DeadlinePartialResult 测试 ctx 到期时返回已收集的部分结果
func TestLookup_DeadlinePartialResult(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	local := newTestNode(t, net, clk)
	silent := newTestNode(t, net, clk)
	hub := newTestNode(t, net, clk)
	far := newTestNode(t, net, clk)
	link(t, local, silent)
	link(t, local, hub)
	link(t, far, hub)
	net.SetDown(silent.LocalAddr(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	nearest, err := local.FindNode(ctx, far.NodeID())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "不等待单次 RPC 超时")
	assert.True(t, containsContact(nearest, hub.NodeID()))
	assert.True(t, containsContact(nearest, far.NodeID()), "包含已响应节点返回的联系人")

	t.Log("✅ 超时返回部分结果")
}

// TestLookup_ValueFromNetwork 测试本地无副本时经网络查到值并写入缓存
func TestLookup_ValueFromNetwork(t *testing.T) {
	nodes, _, _ := newCluster(t, 4, WithReplicationFactor(1))
	ctx := context.Background()
	id := types.KeyID([]byte("color"))

	ok, err := nodes[0].Store(ctx, []byte("color"), nil, []byte("blue"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	var holders, others []*DHT
	for _, n := range nodes {
		if _, found := n.RecordStore().Get(id); found {
			holders = append(holders, n)
		} else {
			others = append(others, n)
		}
	}
	require.Len(t, holders, 1, "只写入一个副本")
	reader, bystander := others[0], others[1]

	v, err := reader.Get(ctx, []byte("color"))
	require.NoError(t, err)
	assert.Equal(t, []byte("blue"), v.Regular)
	_, cached := reader.RecordStore().Len()
	assert.Equal(t, 1, cached, "查到的值写入本地缓存")
	_, stored := reader.RecordStore().GetLocal(id)
	assert.False(t, stored, "缓存不进入正常存储")

	// 回写到回答 NOT_FOUND 的节点
	raw, ok := reader.RecordStore().Get(id)
	require.True(t, ok)
	reader.cacheValue(id, raw, []*types.Contact{types.NewContact(bystander.NodeID(), bystander.LocalAddr(), time.Now())})
	require.Eventually(t, func() bool {
		_, cached := bystander.RecordStore().Len()
		return cached == 1
	}, 3*time.Second, 10*time.Millisecond)

	t.Log("✅ 经网络查到值并缓存")
}
