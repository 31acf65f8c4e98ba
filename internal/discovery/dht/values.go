package dht

import (
	"bytes"
	"sort"

	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// ValueWithExpiration 带过期时间的值
type ValueWithExpiration struct {
	Value          []byte
	ExpirationTime types.DHTTime
}

// ============================================================================
//                              字典记录
// ============================================================================

// Dictionary 字典记录：子键 → 值，每个子键独立过期
//
// 非并发安全，由 RecordStore 的锁保护；对外返回的总是副本。
type Dictionary struct {
	entries map[string]ValueWithExpiration
	latest  types.DHTTime
}

// NewDictionary 创建空字典
func NewDictionary() *Dictionary {
	return &Dictionary{entries: make(map[string]ValueWithExpiration)}
}

// Store 写入子键，仅当过期时间严格大于已有值时替换
func (d *Dictionary) Store(subkey, value []byte, exp types.DHTTime) bool {
	if old, ok := d.entries[string(subkey)]; ok && old.ExpirationTime >= exp {
		return false
	}
	d.entries[string(subkey)] = ValueWithExpiration{Value: value, ExpirationTime: exp}
	if exp > d.latest {
		d.latest = exp
	}
	return true
}

// Get 读取子键
func (d *Dictionary) Get(subkey []byte) (ValueWithExpiration, bool) {
	v, ok := d.entries[string(subkey)]
	return v, ok
}

// Len 子键数量
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// LatestExpiration 所有子键中最大的过期时间
func (d *Dictionary) LatestExpiration() types.DHTTime {
	return d.latest
}

// Subkeys 返回有序子键列表
func (d *Dictionary) Subkeys() [][]byte {
	keys := make([][]byte, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}

// prune 移除 now 之前过期的子键，返回移除数量
func (d *Dictionary) prune(now types.DHTTime) int {
	removed := 0
	d.latest = 0
	for k, v := range d.entries {
		if v.ExpirationTime < now {
			delete(d.entries, k)
			removed++
			continue
		}
		if v.ExpirationTime > d.latest {
			d.latest = v.ExpirationTime
		}
	}
	return removed
}

// clone 返回副本，只保留 now 之后仍有效的子键
func (d *Dictionary) clone(now types.DHTTime) *Dictionary {
	out := NewDictionary()
	for k, v := range d.entries {
		if v.ExpirationTime >= now {
			out.entries[k] = v
			if v.ExpirationTime > out.latest {
				out.latest = v.ExpirationTime
			}
		}
	}
	return out
}

// merge 合并另一个字典，每个子键保留过期时间最大的值
func (d *Dictionary) merge(other *Dictionary) {
	for k, v := range other.entries {
		d.Store([]byte(k), v.Value, v.ExpirationTime)
	}
}

// toProto 编码为线格式
func (d *Dictionary) toProto() *pb.DictionaryValue {
	out := &pb.DictionaryValue{Entries: make([]*pb.DictionaryEntry, 0, len(d.entries))}
	for _, k := range d.Subkeys() {
		v := d.entries[string(k)]
		out.Entries = append(out.Entries, &pb.DictionaryEntry{
			Subkey:         k,
			Value:          v.Value,
			ExpirationTime: v.ExpirationTime,
		})
	}
	return out
}

// dictionaryFromProto 解码线格式
func dictionaryFromProto(m *pb.DictionaryValue) *Dictionary {
	d := NewDictionary()
	for _, e := range m.Entries {
		d.Store(e.Subkey, e.Value, e.ExpirationTime)
	}
	return d
}

// ============================================================================
//                              Value
// ============================================================================

// Value 一条记录的内容：普通值或字典
type Value struct {
	// Regular 普通记录的值，字典记录时为 nil
	Regular []byte

	// Dictionary 字典记录，普通记录时为 nil
	Dictionary *Dictionary

	// ExpirationTime 普通记录的过期时间，或字典的最大过期时间
	ExpirationTime types.DHTTime
}

// IsDictionary 是否为字典记录
func (v *Value) IsDictionary() bool {
	return v.Dictionary != nil
}

// Subkey 读取字典子键
func (v *Value) Subkey(subkey []byte) (ValueWithExpiration, bool) {
	if v.Dictionary == nil {
		return ValueWithExpiration{}, false
	}
	return v.Dictionary.Get(subkey)
}

// toFindResult 编码为 FindResult 的值部分
func (v *Value) toFindResult(r *pb.FindResult) {
	r.ExpirationTime = v.ExpirationTime
	if v.Dictionary != nil {
		r.Type = pb.ResultFoundDictionary
		r.Value = v.Dictionary.toProto().Marshal()
		return
	}
	r.Type = pb.ResultFoundRegular
	r.Value = v.Regular
}

// valueFromFindResult 从 FindResult 解码，NOT_FOUND 时返回 nil
func valueFromFindResult(r *pb.FindResult) (*Value, error) {
	switch r.Type {
	case pb.ResultFoundRegular:
		return &Value{Regular: r.Value, ExpirationTime: r.ExpirationTime}, nil
	case pb.ResultFoundDictionary:
		var dv pb.DictionaryValue
		if err := dv.Unmarshal(r.Value); err != nil {
			return nil, err
		}
		d := dictionaryFromProto(&dv)
		return &Value{Dictionary: d, ExpirationTime: d.LatestExpiration()}, nil
	default:
		return nil, nil
	}
}

// mergeValues 合并两个查找结果
//
// 两个字典逐子键合并；其余情况保留过期时间更大的一方。
func mergeValues(a, b *Value) *Value {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.IsDictionary() && b.IsDictionary():
		d := a.Dictionary.clone(0)
		d.merge(b.Dictionary)
		return &Value{Dictionary: d, ExpirationTime: d.LatestExpiration()}
	case b.ExpirationTime > a.ExpirationTime:
		return b
	default:
		return a
	}
}
