// Package identity 管理本节点的密钥与 NodeID
//
// 身份来源优先级：直接注入的私钥 > 身份文件 > 临时生成。
// 身份文件不存在时自动生成 Ed25519 密钥并写入。
package identity

import (
	"fmt"

	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("core/identity")

// Identity 本节点身份
type Identity struct {
	privateKey crypto.PrivateKey
	pubRaw     []byte
	nodeID     types.NodeID
}

// NewIdentity 从私钥创建身份
func NewIdentity(priv crypto.PrivateKey) (*Identity, error) {
	if priv == nil {
		return nil, crypto.ErrNilPrivateKey
	}
	pubRaw, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Identity{
		privateKey: priv,
		pubRaw:     pubRaw,
		nodeID:     types.NodeIDFromPublicKey(pubRaw),
	}, nil
}

// Generate 生成临时 Ed25519 身份
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	if err != nil {
		return nil, err
	}
	return NewIdentity(priv)
}

// Load 从身份文件加载，文件不存在时生成并保存
func Load(path, password string) (*Identity, error) {
	var pw []byte
	if password != "" {
		pw = []byte(password)
	}
	priv, err := crypto.LoadOrCreateIdentity(path, pw)
	if err != nil {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}
	return NewIdentity(priv)
}

// ID 返回节点 ID
func (i *Identity) ID() types.NodeID {
	return i.nodeID
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() crypto.PrivateKey {
	return i.privateKey
}

// PublicKeyBytes 返回序列化公钥
func (i *Identity) PublicKeyBytes() []byte {
	return i.pubRaw
}

// KeyType 返回密钥类型
func (i *Identity) KeyType() crypto.KeyType {
	return i.privateKey.Type()
}
