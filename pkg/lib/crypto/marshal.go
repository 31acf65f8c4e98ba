package crypto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// 公钥 / 私钥的序列化格式（protobuf 线格式）：
//
//	message PublicKey  { KeyType type = 1; bytes data = 2; }
//	message PrivateKey { KeyType type = 1; bytes data = 2; }

const (
	keyFieldType protowire.Number = 1
	keyFieldData protowire.Number = 2
)

func marshalKey(k Key) ([]byte, error) {
	raw, err := k.Raw()
	if err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, keyFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.Type()))
	b = protowire.AppendTag(b, keyFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	return b, nil
}

func unmarshalKey(data []byte) (KeyType, []byte, error) {
	var (
		kt      KeyType
		raw     []byte
		hasData bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == keyFieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			kt = KeyType(v)
			n = m
		case num == keyFieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(m))
			}
			raw, hasData = v, true
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return 0, nil, fmt.Errorf("%w: %v", ErrUnmarshalFailed, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	if !hasData {
		return 0, nil, fmt.Errorf("%w: missing key data", ErrUnmarshalFailed)
	}
	return kt, raw, nil
}

// MarshalPublicKey 序列化公钥
func MarshalPublicKey(key PublicKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPublicKey
	}
	return marshalKey(key)
}

// UnmarshalPublicKeyBytes 反序列化公钥
func UnmarshalPublicKeyBytes(data []byte) (PublicKey, error) {
	kt, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	return UnmarshalPublicKey(kt, raw)
}

// MarshalPrivateKey 序列化私钥
func MarshalPrivateKey(key PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, ErrNilPrivateKey
	}
	return marshalKey(key)
}

// UnmarshalPrivateKeyBytes 反序列化私钥
func UnmarshalPrivateKeyBytes(data []byte) (PrivateKey, error) {
	kt, raw, err := unmarshalKey(data)
	if err != nil {
		return nil, err
	}
	return UnmarshalPrivateKey(kt, raw)
}
