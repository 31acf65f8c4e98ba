package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/pkg/types"
)

// farID 生成与全零本地 ID 共同前缀为 0 的 ID
func farID(n byte) types.NodeID {
	var id types.NodeID
	id[0] = 0x80
	id[31] = n
	return id
}

func contact(id types.NodeID) *types.Contact {
	return &types.Contact{ID: id, Addr: "addr-" + id.ShortString()}
}

// TestRoutingTable_AddAndRefresh 测试添加与刷新
func TestRoutingTable_AddAndRefresh(t *testing.T) {
	clk := clock.NewMock()
	rt := NewRoutingTable(types.EmptyNodeID, 4, clk)

	outcome, cand := rt.AddOrRefresh(contact(farID(1)))
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Nil(t, cand)

	outcome, _ = rt.AddOrRefresh(contact(farID(2)))
	assert.Equal(t, OutcomeAdded, outcome)

	clk.Add(time.Second)
	outcome, _ = rt.AddOrRefresh(contact(farID(1)))
	assert.Equal(t, OutcomeRefreshed, outcome)

	// 刷新后移到末尾（最近见到）
	cs := rt.BucketContacts(0)
	require.Len(t, cs, 2)
	assert.Equal(t, farID(2), cs[0].ID)
	assert.Equal(t, farID(1), cs[1].ID)
	assert.Equal(t, clk.Now(), cs[1].LastSeen)

	outcome, _ = rt.AddOrRefresh(contact(types.EmptyNodeID))
	assert.Equal(t, OutcomeIgnored, outcome, "本节点自身不入表")
	assert.Equal(t, 2, rt.Size())

	t.Log("✅ 添加与刷新正确")
}

// TestRoutingTable_BucketNeverExceedsK 测试非本节点桶不超过 k
func TestRoutingTable_BucketNeverExceedsK(t *testing.T) {
	rt := NewRoutingTable(types.EmptyNodeID, 4, clock.NewMock())

	for i := 0; i < 50; i++ {
		rt.AddOrRefresh(contact(farID(byte(i + 1))))
		for idx := 0; idx < rt.BucketCount(); idx++ {
			assert.LessOrEqual(t, len(rt.BucketContacts(idx)), 4)
			assert.LessOrEqual(t, len(rt.Replacements(idx)), 4)
		}
	}

	// 全部节点共同前缀为 0，第一次溢出时分裂一次，之后桶 0 不再分裂
	assert.Equal(t, 2, rt.BucketCount())
	assert.Len(t, rt.BucketContacts(0), 4)
	assert.Empty(t, rt.BucketContacts(1))

	t.Log("✅ 桶容量受限")
}

// TestRoutingTable_SplitSelfBucket 测试包含本节点的桶分裂
func TestRoutingTable_SplitSelfBucket(t *testing.T) {
	rt := NewRoutingTable(types.EmptyNodeID, 2, clock.NewMock())

	var near1, near2 types.NodeID
	near1[1] = 0x01 // CPL 15
	near2[2] = 0x01 // CPL 23

	rt.AddOrRefresh(contact(farID(1)))
	rt.AddOrRefresh(contact(near1))
	outcome, _ := rt.AddOrRefresh(contact(near2))
	assert.Equal(t, OutcomeAdded, outcome, "最后一个桶满时分裂后插入")
	assert.Greater(t, rt.BucketCount(), 1)
	assert.Equal(t, 3, rt.Size())
	assert.Equal(t, 0, rt.BucketIndex(farID(1)))

	t.Log("✅ 本节点桶分裂正确")
}

// TestRoutingTable_PingBeforeEvict 测试先 ping 再驱逐
func TestRoutingTable_PingBeforeEvict(t *testing.T) {
	rt := NewRoutingTable(types.EmptyNodeID, 2, clock.NewMock())

	// 第三个节点触发分裂，之后桶 0 不可再分裂
	var near types.NodeID
	near[31] = 1
	rt.AddOrRefresh(contact(near))
	rt.AddOrRefresh(contact(farID(1)))
	rt.AddOrRefresh(contact(farID(2)))
	require.Equal(t, 2, rt.BucketCount())
	require.Len(t, rt.BucketContacts(0), 2)

	outcome, cand := rt.AddOrRefresh(contact(farID(3)))
	assert.Equal(t, OutcomeCached, outcome)
	require.NotNil(t, cand)
	assert.Equal(t, farID(1), cand.ID, "候选为最久未见的节点")

	// ping 进行中不重复返回候选
	outcome, cand2 := rt.AddOrRefresh(contact(farID(4)))
	assert.Equal(t, OutcomeCached, outcome)
	assert.Nil(t, cand2)

	// 存活：保留
	rt.ResolveCandidate(farID(1), true)
	_, ok := rt.Get(farID(1))
	assert.True(t, ok)

	// 下一次溢出的候选变为 farID(2)；无响应时驱逐并由最近的替换节点补位
	_, cand = rt.AddOrRefresh(contact(farID(5)))
	require.NotNil(t, cand)
	assert.Equal(t, farID(2), cand.ID)
	rt.ResolveCandidate(farID(2), false)

	_, ok = rt.Get(farID(2))
	assert.False(t, ok)
	_, ok = rt.Get(farID(5))
	assert.True(t, ok, "最近的替换节点补位")
	assert.Len(t, rt.BucketContacts(0), 2)

	t.Log("✅ ping-before-evict 正确")
}

// TestRoutingTable_NearestPeers 测试最近节点排序与排除
func TestRoutingTable_NearestPeers(t *testing.T) {
	rt := NewRoutingTable(types.EmptyNodeID, 20, clock.NewMock())
	for i := 1; i <= 10; i++ {
		rt.AddOrRefresh(contact(farID(byte(i))))
	}

	target := farID(4)
	peers := rt.NearestPeers(target, 3)
	require.Len(t, peers, 3)
	assert.Equal(t, farID(4), peers[0].ID)
	for i := 1; i < len(peers); i++ {
		assert.True(t, types.Closer(peers[i-1].ID, peers[i].ID, target))
	}

	peers = rt.NearestPeers(target, 3, farID(4))
	for _, p := range peers {
		assert.NotEqual(t, farID(4), p.ID)
	}

	assert.True(t, rt.Remove(farID(4)))
	assert.False(t, rt.Remove(farID(4)))
	assert.Equal(t, 9, rt.Size())

	t.Log("✅ 最近节点正确")
}

// TestRoutingTable_RandomIDInBucket 测试随机 ID 落在指定桶
func TestRoutingTable_RandomIDInBucket(t *testing.T) {
	local := types.RandomNodeID()
	rt := NewRoutingTable(local, 1, clock.NewMock())

	// 制造若干个桶
	for i := 0; i < 200; i++ {
		rt.AddOrRefresh(contact(types.RandomNodeID()))
	}
	require.Greater(t, rt.BucketCount(), 1)

	for idx := 0; idx < rt.BucketCount(); idx++ {
		for n := 0; n < 10; n++ {
			assert.Equal(t, idx, rt.BucketIndex(rt.RandomIDInBucket(idx)))
		}
	}

	t.Log("✅ 随机 ID 范围正确")
}

// TestRoutingTable_StaleBuckets 测试过期桶
func TestRoutingTable_StaleBuckets(t *testing.T) {
	clk := clock.NewMock()
	rt := NewRoutingTable(types.EmptyNodeID, 4, clk)

	assert.Empty(t, rt.StaleBuckets(time.Minute))
	clk.Add(2 * time.Minute)
	assert.Equal(t, []int{0}, rt.StaleBuckets(time.Minute))

	rt.MarkBucketRefreshed(0)
	assert.Empty(t, rt.StaleBuckets(time.Minute))

	t.Log("✅ 过期桶检测正确")
}
