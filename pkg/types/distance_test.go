package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func idWithPrefix(b ...byte) NodeID {
	var id NodeID
	copy(id[:], b)
	return id
}

// TestDistance_Properties 测试 XOR 距离的基本性质
func TestDistance_Properties(t *testing.T) {
	a := RandomNodeID()
	b := RandomNodeID()

	assert.True(t, Distance(a, a).IsEmpty(), "自身距离为零")
	assert.Equal(t, Distance(a, b), Distance(b, a), "距离对称")
	assert.Equal(t, 0, CompareDistance(a, a, b))
	assert.Equal(t, 0, DistanceInt(a, a).Sign())
}

// TestCompareDistance 测试距离比较
func TestCompareDistance(t *testing.T) {
	target := idWithPrefix(0x00)
	near := idWithPrefix(0x01)
	far := idWithPrefix(0x80)

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.True(t, Closer(near, far, target))
	assert.False(t, Closer(far, near, target))
}

// TestCloser_TieBreak 测试距离相同时按原始 ID 打破平局
func TestCloser_TieBreak(t *testing.T) {
	a := idWithPrefix(0x10)
	assert.False(t, Closer(a, a, RandomNodeID()), "全序下自身不小于自身")
}

// TestCommonPrefixLen 测试共同前缀长度
func TestCommonPrefixLen(t *testing.T) {
	tests := []struct {
		name string
		a, b NodeID
		want int
	}{
		{"相同", idWithPrefix(0xAB), idWithPrefix(0xAB), NodeIDBits},
		{"首位不同", idWithPrefix(0x00), idWithPrefix(0x80), 0},
		{"第4位不同", idWithPrefix(0xF0), idWithPrefix(0xE0), 3},
		{"第二字节", idWithPrefix(0x01, 0x00), idWithPrefix(0x01, 0x01), 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommonPrefixLen(tt.a, tt.b))
		})
	}
}

// TestSortByDistance 测试按距离排序
func TestSortByDistance(t *testing.T) {
	target := idWithPrefix(0x00)
	ids := []NodeID{idWithPrefix(0x80), idWithPrefix(0x01), idWithPrefix(0x10)}
	SortByDistance(ids, target)
	assert.Equal(t, []NodeID{idWithPrefix(0x01), idWithPrefix(0x10), idWithPrefix(0x80)}, ids)
}

// TestDHTTime_RoundTrip 测试 DHT 时间换算
func TestDHTTime_RoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 500000000)
	got := FromDHTTime(ToDHTTime(now))
	assert.WithinDuration(t, now, got, time.Microsecond)
}
