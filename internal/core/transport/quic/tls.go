package quic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// alpn 应用层协议标识
const alpn = "meshdht/1"

// nodeIDExtensionOID 证书扩展中存放 NodeID 的 OID
var nodeIDExtensionOID = []int{1, 3, 6, 1, 4, 1, 53594, 2, 1}

// newTLSConfig 生成双向 TLS 配置
//
// 节点密钥为 Ed25519 时直接用于证书；其他类型使用临时 Ed25519 证书密钥，
// 此时证书不携带 NodeID 扩展，身份由请求的认证信封保证。
func newTLSConfig(key crypto.PrivateKey) (server, client *tls.Config, err error) {
	certKey, nodeID, err := certSigner(key)
	if err != nil {
		return nil, nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"meshdht"},
			CommonName:   "meshdht node",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(180 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	if !nodeID.IsEmpty() {
		template.Subject.CommonName = "meshdht node " + nodeID.ShortString()
		template.ExtraExtensions = []pkix.Extension{{Id: nodeIDExtensionOID, Value: nodeID.Bytes()}}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, certKey.Public(), certKey)
	if err != nil {
		return nil, nil, fmt.Errorf("创建证书失败: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: certKey}

	// 自签名证书没有 CA 可验证，由 verifyPeerCertificate 检查 NodeID 扩展一致性
	server = &tls.Config{
		Certificates:          []tls.Certificate{cert},
		NextProtos:            []string{alpn},
		InsecureSkipVerify:    true,
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeerCertificate,
		MinVersion:            tls.VersionTLS13,
	}
	client = server.Clone()
	client.ClientAuth = tls.NoClientCert
	return server, client, nil
}

func certSigner(key crypto.PrivateKey) (ed25519.PrivateKey, types.NodeID, error) {
	if key != nil && key.Type() == crypto.KeyTypeEd25519 {
		raw, err := key.Raw()
		if err != nil {
			return nil, types.EmptyNodeID, err
		}
		if len(raw) == ed25519.PrivateKeySize {
			id, err := nodeIDFromEd25519(ed25519.PrivateKey(raw).Public().(ed25519.PublicKey))
			return ed25519.PrivateKey(raw), id, err
		}
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, types.EmptyNodeID, err
}

func nodeIDFromEd25519(pub ed25519.PublicKey) (types.NodeID, error) {
	pk, err := crypto.UnmarshalEd25519PublicKey(pub)
	if err != nil {
		return types.EmptyNodeID, err
	}
	raw, err := crypto.MarshalPublicKey(pk)
	if err != nil {
		return types.EmptyNodeID, err
	}
	return types.NodeIDFromPublicKey(raw), nil
}

// verifyPeerCertificate 验证对端证书
//
// 证书带 NodeID 扩展时，扩展值必须等于由证书公钥派生的 NodeID。
func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("对端未提供证书")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("解析证书失败: %w", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("证书不在有效期内")
	}

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(nodeIDExtensionOID) {
			continue
		}
		claimed, err := types.NodeIDFromBytes(ext.Value)
		if err != nil {
			return fmt.Errorf("解析扩展 NodeID 失败: %w", err)
		}
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("NodeID 扩展要求 Ed25519 证书，实际 %T", cert.PublicKey)
		}
		derived, err := nodeIDFromEd25519(pub)
		if err != nil {
			return err
		}
		if !claimed.Equal(derived) {
			return fmt.Errorf("NodeID 扩展与公钥派生不一致: 扩展 %s, 派生 %s", claimed.ShortString(), derived.ShortString())
		}
	}
	return nil
}

// ExtractNodeID 从 TLS 连接状态提取对端 NodeID
//
// 对端使用临时证书密钥时返回 EmptyNodeID。
func ExtractNodeID(state tls.ConnectionState) (types.NodeID, error) {
	if len(state.PeerCertificates) == 0 {
		return types.EmptyNodeID, fmt.Errorf("对端未提供 TLS 证书")
	}
	cert := state.PeerCertificates[0]
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(nodeIDExtensionOID) {
			pub, ok := cert.PublicKey.(ed25519.PublicKey)
			if !ok {
				return types.EmptyNodeID, fmt.Errorf("unexpected certificate key %T", cert.PublicKey)
			}
			return nodeIDFromEd25519(pub)
		}
	}
	return types.EmptyNodeID, nil
}
