package interfaces

import "context"

// StakeVerifier 外部链客户端提供的质押/注册校验
//
// 实现通常会访问链上状态，调用方应通过 ctx 约束时延。
type StakeVerifier interface {
	// IsStaked 判断公钥持有者是否已注册并满足质押要求
	IsStaked(ctx context.Context, publicKey []byte) (bool, error)
}

// StakeVerifierFunc 函数适配器
type StakeVerifierFunc func(ctx context.Context, publicKey []byte) (bool, error)

// IsStaked 实现 StakeVerifier
func (f StakeVerifierFunc) IsStaked(ctx context.Context, publicKey []byte) (bool, error) {
	return f(ctx, publicKey)
}
