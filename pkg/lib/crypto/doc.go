// Package crypto 提供 meshdht 的签名能力
//
// 只保留节点身份需要的两种算法：
//   - Ed25519（默认）
//   - RSA（PKCS#1 v1.5 + SHA-256，兼容既有网络中的 RSA 身份）
//
// 公钥序列化格式与 libp2p key.proto 对齐（type=1, data=2），
// NodeID 由序列化后的公钥派生，见 pkg/types.NodeIDFromPublicKey。
//
// 身份文件（identity.go）支持可选的口令加密：Argon2id 派生密钥 + AES-GCM。
package crypto
