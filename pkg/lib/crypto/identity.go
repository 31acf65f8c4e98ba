package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// 身份文件格式：
//
//	┌────────────────────────────────────────────────────────────┐
//	│  Magic:     "MESHDHT-ID"  (10 bytes)                       │
//	│  Version:   uint8                                          │
//	│  Encrypted: uint8 (0=否, 1=是)                             │
//	│  Data:      MarshalPrivateKey 输出，或其加密数据            │
//	└────────────────────────────────────────────────────────────┘
//
//	加密数据：Salt(16) || Nonce(12) || AES-GCM 密文

const (
	identityMagic   = "MESHDHT-ID"
	identityVersion = 1

	saltSize  = 16
	nonceSize = 12

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// SaveIdentity 将私钥写入身份文件，password 为空时明文保存
func SaveIdentity(path string, key PrivateKey, password []byte) error {
	if key == nil {
		return ErrNilPrivateKey
	}
	data, err := MarshalPrivateKey(key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(identityMagic)
	buf.WriteByte(identityVersion)
	if len(password) > 0 {
		enc, err := encryptData(data, password)
		if err != nil {
			return err
		}
		buf.WriteByte(1)
		buf.Write(enc)
	} else {
		buf.WriteByte(0)
		buf.Write(data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// LoadIdentity 读取身份文件
func LoadIdentity(path string, password []byte) (PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hdr := len(identityMagic) + 2
	if len(data) < hdr || string(data[:len(identityMagic)]) != identityMagic {
		return nil, ErrInvalidKeyFile
	}
	if v := data[len(identityMagic)]; v != identityVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidKeyFile, v)
	}

	payload := data[hdr:]
	if data[hdr-1] == 1 {
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		if payload, err = decryptData(payload, password); err != nil {
			return nil, err
		}
	}
	return UnmarshalPrivateKeyBytes(payload)
}

// LoadOrCreateIdentity 读取身份文件，不存在时生成 Ed25519 密钥并保存
func LoadOrCreateIdentity(path string, password []byte) (PrivateKey, error) {
	key, err := LoadIdentity(path, password)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	priv, _, err := GenerateKeyPair(KeyTypeEd25519)
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(path, priv, password); err != nil {
		return nil, err
	}
	return priv, nil
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func encryptData(plaintext, password []byte) ([]byte, error) {
	out := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	gcm, err := newGCM(deriveKey(password, out[:saltSize]))
	if err != nil {
		return nil, err
	}
	return gcm.Seal(out, out[saltSize:], plaintext, nil), nil
}

func decryptData(data, password []byte) ([]byte, error) {
	if len(data) < saltSize+nonceSize {
		return nil, ErrDecryptionFailed
	}
	gcm, err := newGCM(deriveKey(password, data[:saltSize]))
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
