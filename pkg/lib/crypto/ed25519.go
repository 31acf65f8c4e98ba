package crypto

import (
	"crypto/ed25519"
	"fmt"
	"io"
)

type edPublic ed25519.PublicKey

func (k edPublic) Raw() ([]byte, error) { return append([]byte(nil), k...), nil }
func (k edPublic) Type() KeyType        { return KeyTypeEd25519 }
func (k edPublic) Equals(o Key) bool    { return sameKey(k, o) }

// Verify 签名长度不对时直接返回 false，不报错
func (k edPublic) Verify(data, sig []byte) (bool, error) {
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(k), data, sig), nil
}

type edPrivate ed25519.PrivateKey

func (k edPrivate) Raw() ([]byte, error) { return append([]byte(nil), k...), nil }
func (k edPrivate) Type() KeyType        { return KeyTypeEd25519 }
func (k edPrivate) Equals(o Key) bool    { return sameKey(k, o) }

func (k edPrivate) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(ed25519.PrivateKey(k), data), nil
}

func (k edPrivate) GetPublic() PublicKey {
	return edPublic(ed25519.PrivateKey(k).Public().(ed25519.PublicKey))
}

// seed 返回 32 字节种子
func (k edPrivate) seed() []byte {
	return ed25519.PrivateKey(k).Seed()
}

// GenerateEd25519Key 生成 Ed25519 密钥对
func GenerateEd25519Key(src io.Reader) (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, err
	}
	return edPrivate(priv), edPublic(pub), nil
}

// UnmarshalEd25519PublicKey 由 32 字节公钥还原
func UnmarshalEd25519PublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key is %d bytes", ErrInvalidKeySize, len(raw))
	}
	return edPublic(append([]byte(nil), raw...)), nil
}

// UnmarshalEd25519PrivateKey 接受 64 字节私钥或 32 字节种子
func UnmarshalEd25519PrivateKey(raw []byte) (PrivateKey, error) {
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return edPrivate(append([]byte(nil), raw...)), nil
	case ed25519.SeedSize:
		return edPrivate(ed25519.NewKeyFromSeed(raw)), nil
	}
	return nil, fmt.Errorf("%w: ed25519 private key is %d bytes", ErrInvalidKeySize, len(raw))
}
