package crypto

import (
	"bytes"
	"crypto/rand"
	"io"
)

// KeyType 密钥算法，取值即序列化时 type 字段的值
type KeyType int

const (
	KeyTypeRSA     KeyType = 0
	KeyTypeEd25519 KeyType = 1
)

func (kt KeyType) String() string {
	switch kt {
	case KeyTypeRSA:
		return "RSA"
	case KeyTypeEd25519:
		return "Ed25519"
	}
	return "Unknown"
}

// Key 公钥与私钥共有的方法
type Key interface {
	// Raw 算法原生编码：Ed25519 为原始字节，RSA 为 PKIX / PKCS#1
	Raw() ([]byte, error)
	Type() KeyType
	Equals(Key) bool
}

// PublicKey 校验签名的一方
type PublicKey interface {
	Key
	Verify(data, sig []byte) (bool, error)
}

// PrivateKey 节点身份，签名请求、响应与访问令牌
type PrivateKey interface {
	Key
	Sign(data []byte) ([]byte, error)
	GetPublic() PublicKey
}

// GenerateKeyPair 生成 kt 类型的密钥对
func GenerateKeyPair(kt KeyType) (PrivateKey, PublicKey, error) {
	return GenerateKeyPairWithReader(kt, rand.Reader)
}

// GenerateKeyPairWithReader 与 GenerateKeyPair 相同，随机源由调用方提供
func GenerateKeyPairWithReader(kt KeyType, src io.Reader) (PrivateKey, PublicKey, error) {
	switch kt {
	case KeyTypeEd25519:
		return GenerateEd25519Key(src)
	case KeyTypeRSA:
		return GenerateRSAKey(RSADefaultKeySize, src)
	}
	return nil, nil, ErrBadKeyType
}

// UnmarshalPublicKey 由算法原生编码还原公钥
func UnmarshalPublicKey(kt KeyType, raw []byte) (PublicKey, error) {
	switch kt {
	case KeyTypeEd25519:
		return UnmarshalEd25519PublicKey(raw)
	case KeyTypeRSA:
		return UnmarshalRSAPublicKey(raw)
	}
	return nil, ErrBadKeyType
}

// UnmarshalPrivateKey 由算法原生编码还原私钥
func UnmarshalPrivateKey(kt KeyType, raw []byte) (PrivateKey, error) {
	switch kt {
	case KeyTypeEd25519:
		return UnmarshalEd25519PrivateKey(raw)
	case KeyTypeRSA:
		return UnmarshalRSAPrivateKey(raw)
	}
	return nil, ErrBadKeyType
}

// sameKey 算法相同且原生编码逐字节相等
func sameKey(a, b Key) bool {
	if a == nil || b == nil || a.Type() != b.Type() {
		return false
	}
	ra, err := a.Raw()
	if err != nil {
		return false
	}
	rb, err := b.Raw()
	if err != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
