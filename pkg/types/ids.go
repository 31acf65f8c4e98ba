package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeIDBits NodeID 位数
const NodeIDBits = 256

// NodeIDSize NodeID 字节数
const NodeIDSize = NodeIDBits / 8

// NodeID 节点唯一标识符
//
// 由公钥派生（blake3-256），分配后不可变。应用层的 key 也通过
// KeyID 映射到同一空间，因此记录与节点共用 XOR 距离度量。
//
// 外部表示格式：
//   - String(): Base58 编码
//   - ShortString(): Base58 前 8 个字符（日志简短标识）
type NodeID [NodeIDSize]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID")

// NodeIDFromPublicKey 从序列化公钥派生 NodeID
func NodeIDFromPublicKey(marshalledPubKey []byte) NodeID {
	return NodeID(blake3.Sum256(marshalledPubKey))
}

// KeyID 将应用层 key 映射到 NodeID 空间
func KeyID(key []byte) NodeID {
	return NodeID(blake3.Sum256(key))
}

// RandomNodeID 生成随机 NodeID（用于测试和刷新）
func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

// String 返回 NodeID 的 Base58 字符串表示
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex 返回十六进制表示
func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	b := make([]byte, NodeIDSize)
	copy(b, id[:])
	return b
}

// Equal 比较两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != NodeIDSize {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从 Base58 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}
