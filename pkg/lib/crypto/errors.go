package crypto

import "errors"

// 密钥相关错误
var (
	// ErrBadKeyType 不支持的密钥类型
	ErrBadKeyType = errors.New("invalid or unsupported key type")

	// ErrNilPublicKey 公钥为空
	ErrNilPublicKey = errors.New("nil public key")

	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("nil private key")

	// ErrInvalidKeySize 密钥大小无效
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidPublicKey 公钥无效
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey 私钥无效
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// 序列化与身份文件错误
var (
	// ErrUnmarshalFailed 反序列化失败
	ErrUnmarshalFailed = errors.New("unmarshal failed")

	// ErrInvalidKeyFile 身份文件格式无效
	ErrInvalidKeyFile = errors.New("invalid key file format")

	// ErrPasswordRequired 身份文件已加密但未提供口令
	ErrPasswordRequired = errors.New("password required")

	// ErrDecryptionFailed 解密失败（口令错误或文件损坏）
	ErrDecryptionFailed = errors.New("decryption failed")
)
