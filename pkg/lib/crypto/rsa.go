package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// RSA 位数范围
const (
	RSADefaultKeySize = 2048
	rsaMinBits        = 2048
	rsaMaxBits        = 8192
)

type rsaPublic struct{ k *rsa.PublicKey }

func (p rsaPublic) Raw() ([]byte, error) { return x509.MarshalPKIXPublicKey(p.k) }
func (p rsaPublic) Type() KeyType        { return KeyTypeRSA }
func (p rsaPublic) Equals(o Key) bool    { return sameKey(p, o) }

// Verify PKCS#1 v1.5，摘要为 SHA-256
func (p rsaPublic) Verify(data, sig []byte) (bool, error) {
	sum := sha256.Sum256(data)
	return rsa.VerifyPKCS1v15(p.k, crypto.SHA256, sum[:], sig) == nil, nil
}

type rsaPrivate struct{ k *rsa.PrivateKey }

func (p rsaPrivate) Raw() ([]byte, error) { return x509.MarshalPKCS1PrivateKey(p.k), nil }
func (p rsaPrivate) Type() KeyType        { return KeyTypeRSA }
func (p rsaPrivate) Equals(o Key) bool    { return sameKey(p, o) }
func (p rsaPrivate) GetPublic() PublicKey { return rsaPublic{&p.k.PublicKey} }

func (p rsaPrivate) Sign(data []byte) ([]byte, error) {
	sum := sha256.Sum256(data)
	return rsa.SignPKCS1v15(rand.Reader, p.k, crypto.SHA256, sum[:])
}

func checkRSABits(n int) error {
	if n < rsaMinBits || n > rsaMaxBits {
		return fmt.Errorf("%w: rsa modulus of %d bits", ErrInvalidKeySize, n)
	}
	return nil
}

// GenerateRSAKey 生成 bits 位 RSA 密钥对
func GenerateRSAKey(bits int, src io.Reader) (PrivateKey, PublicKey, error) {
	if err := checkRSABits(bits); err != nil {
		return nil, nil, err
	}
	k, err := rsa.GenerateKey(src, bits)
	if err != nil {
		return nil, nil, err
	}
	return rsaPrivate{k}, rsaPublic{&k.PublicKey}, nil
}

// UnmarshalRSAPublicKey 由 PKIX 编码还原
func UnmarshalRSAPublicKey(raw []byte) (PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	k, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa key", ErrInvalidPublicKey)
	}
	if err := checkRSABits(k.N.BitLen()); err != nil {
		return nil, err
	}
	return rsaPublic{k}, nil
}

// UnmarshalRSAPrivateKey 先按 PKCS#1 解析，失败再按 PKCS#8
func UnmarshalRSAPrivateKey(raw []byte) (PrivateKey, error) {
	k, err := x509.ParsePKCS1PrivateKey(raw)
	if err != nil {
		parsed, err8 := x509.ParsePKCS8PrivateKey(raw)
		if err8 != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		var ok bool
		if k, ok = parsed.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: not an rsa key", ErrInvalidPrivateKey)
		}
	}
	if err := checkRSABits(k.N.BitLen()); err != nil {
		return nil, err
	}
	return rsaPrivate{k}, nil
}
