package types

import (
	"math"
	"time"
)

// Contact 路由表中的邻居节点
//
// 由路由表持有，每次成功交互都会刷新 LastSeen。
type Contact struct {
	// ID 节点 ID
	ID NodeID

	// Addr 传输层地址
	Addr string

	// LastSeen 最后一次成功交互的时间
	LastSeen time.Time
}

// NewContact 创建联系人
func NewContact(id NodeID, addr string, seen time.Time) *Contact {
	return &Contact{ID: id, Addr: addr, LastSeen: seen}
}

// Clone 返回副本
func (c *Contact) Clone() *Contact {
	cp := *c
	return &cp
}

// ============================================================================
//                              DHT 时间
// ============================================================================

// DHTTime 网络中交换的时间戳：Unix 纪元以来的秒数（浮点）
type DHTTime = float64

// ToDHTTime 将 time.Time 转换为 DHT 时间
func ToDHTTime(t time.Time) DHTTime {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromDHTTime 将 DHT 时间转换为 time.Time
func FromDHTTime(f DHTTime) time.Time {
	if math.IsInf(f, 1) || f > math.MaxInt64/float64(time.Second) {
		return time.Unix(0, math.MaxInt64)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
