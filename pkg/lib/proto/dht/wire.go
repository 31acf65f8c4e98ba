// Package dht 定义 DHT 协议消息及其 protobuf 线格式编解码
package dht

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed 消息无法解码
var ErrMalformed = errors.New("proto/dht: malformed message")

// Message 可编解码的协议消息
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func wrongType(num protowire.Number) error {
	return fmt.Errorf("%w: field %d has unexpected wire type", ErrMalformed, num)
}

// forEachField 依次回调每个字段，val 为字段值的原始字节（不含 tag）
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return malformed(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

// ============================================================================
//                              字段读取
// ============================================================================

func readBytes(num protowire.Number, typ protowire.Type, val []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, wrongType(num)
	}
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return nil, malformed(n)
	}
	return append([]byte{}, v...), nil
}

func readString(num protowire.Number, typ protowire.Type, val []byte) (string, error) {
	b, err := readBytes(num, typ, val)
	return string(b), err
}

func readVarint(num protowire.Number, typ protowire.Type, val []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(num)
	}
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return 0, malformed(n)
	}
	return v, nil
}

func readBool(num protowire.Number, typ protowire.Type, val []byte) (bool, error) {
	v, err := readVarint(num, typ, val)
	return protowire.DecodeBool(v), err
}

func readDouble(num protowire.Number, typ protowire.Type, val []byte) (float64, error) {
	if typ != protowire.Fixed64Type {
		return 0, wrongType(num)
	}
	v, n := protowire.ConsumeFixed64(val)
	if n < 0 {
		return 0, malformed(n)
	}
	return math.Float64frombits(v), nil
}

// readDoubles 兼容 packed 与非 packed 两种 repeated double 编码
func readDoubles(dst []float64, num protowire.Number, typ protowire.Type, val []byte) ([]float64, error) {
	if typ == protowire.Fixed64Type {
		v, err := readDouble(num, typ, val)
		return append(dst, v), err
	}
	packed, err := readBytes(num, typ, val)
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeFixed64(packed)
		if n < 0 {
			return dst, malformed(n)
		}
		dst = append(dst, math.Float64frombits(v))
		packed = packed[n:]
	}
	return dst, nil
}

// readBools 兼容 packed 与非 packed 两种 repeated bool 编码
func readBools(dst []bool, num protowire.Number, typ protowire.Type, val []byte) ([]bool, error) {
	if typ == protowire.VarintType {
		v, err := readBool(num, typ, val)
		return append(dst, v), err
	}
	packed, err := readBytes(num, typ, val)
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return dst, malformed(n)
		}
		dst = append(dst, protowire.DecodeBool(v))
		packed = packed[n:]
	}
	return dst, nil
}

func readMessage(m Message, num protowire.Number, typ protowire.Type, val []byte) error {
	b, err := readBytes(num, typ, val)
	if err != nil {
		return err
	}
	return m.Unmarshal(b)
}

// ============================================================================
//                              字段写入
// ============================================================================

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendRepeatedBytes 写入 repeated bytes，空元素也必须保留以维持下标对齐
func appendRepeatedBytes(b []byte, num protowire.Number, vs [][]byte) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(vs)))
	for _, v := range vs {
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	return b
}

func appendPackedBools(b []byte, num protowire.Number, vs []bool) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(vs)))
	for _, v := range vs {
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	}
	return b
}

// appendMessage 写入嵌套消息，nil 时省略
func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	if isNil(m) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.Marshal())
}

func isNil(m Message) bool {
	switch v := m.(type) {
	case nil:
		return true
	case *NodeInfo:
		return v == nil
	case *AccessToken:
		return v == nil
	case *RequestAuthInfo:
		return v == nil
	case *ResponseAuthInfo:
		return v == nil
	case *FindResult:
		return v == nil
	case *DictionaryEntry:
		return v == nil
	}
	return false
}
