package types

import (
	"bytes"
	"math/big"
	"math/bits"
)

// Distance 计算两个 NodeID 的 XOR 距离
//
// 结果按大端无符号整数解释：Distance(a, a) 为零，且 Distance(a, b) == Distance(b, a)。
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := 0; i < NodeIDSize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// DistanceInt 以大整数返回 XOR 距离
func DistanceInt(a, b NodeID) *big.Int {
	d := Distance(a, b)
	return new(big.Int).SetBytes(d[:])
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(a, b, target NodeID) int {
	for i := 0; i < NodeIDSize; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// Closer 判断 a 是否比 b 更接近 target
//
// 全序：距离相同时按原始 ID 字节序比较，保证结果可复现。
func Closer(a, b, target NodeID) bool {
	if c := CompareDistance(a, b, target); c != 0 {
		return c < 0
	}
	return bytes.Compare(a[:], b[:]) < 0
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b NodeID) int {
	for i := 0; i < NodeIDSize; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return NodeIDBits
}

// SortByDistance 按到 target 的距离对 ID 原地排序（使用 Closer 全序）
func SortByDistance(ids []NodeID, target NodeID) {
	// 插入排序足以应付 k 级别的列表，且保持稳定
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && Closer(ids[j], ids[j-1], target); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
