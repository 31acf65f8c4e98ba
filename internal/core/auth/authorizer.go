package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// Capability 方法声明的授权能力
type Capability string

const (
	// CapabilityNone 仅要求通过签名验证
	CapabilityNone Capability = ""
	// CapabilityDHT DHT 基础协议（ping/store/find）
	CapabilityDHT Capability = "dht"
	// CapabilityStaked 要求调用方在链上已注册并质押
	CapabilityStaked Capability = "staked"
)

// Authorizer 验证通过后的能力校验
type Authorizer interface {
	Authorize(ctx context.Context, caller *Caller, capability Capability) error
}

// AuthorizerFunc 函数适配器
type AuthorizerFunc func(ctx context.Context, caller *Caller, capability Capability) error

// Authorize 实现 Authorizer
func (f AuthorizerFunc) Authorize(ctx context.Context, caller *Caller, capability Capability) error {
	return f(ctx, caller, capability)
}

// AllowAll 放行全部请求
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, *Caller, Capability) error { return nil })

// Chain 依次执行多个 Authorizer，首个错误即返回
func Chain(authorizers ...Authorizer) Authorizer {
	return AuthorizerFunc(func(ctx context.Context, caller *Caller, capability Capability) error {
		for _, a := range authorizers {
			if a == nil {
				continue
			}
			if err := a.Authorize(ctx, caller, capability); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
//                              StakeAuthorizer
// ============================================================================

// StakeAuthorizer 对需要质押的能力查询外部链客户端
//
// CapabilityStaked 总是需要质押；其他能力在构造时指定。
// 查询结果按公钥缓存 cacheTTL，避免每个请求都访问链。
type StakeAuthorizer struct {
	verifier interfaces.StakeVerifier
	cache    *expirable.LRU[string, bool]
	required map[Capability]struct{}
}

// DefaultStakeCacheTTL 质押查询结果默认缓存时长
const DefaultStakeCacheTTL = 5 * time.Minute

// denyStake 未接入链客户端时的质押判定
var denyStake = interfaces.StakeVerifierFunc(func(context.Context, []byte) (bool, error) {
	return false, nil
})

// NewStakeAuthorizer 创建质押授权器
//
// also 为除 CapabilityStaked 外同样需要质押的能力，如 CapabilityDHT。
func NewStakeAuthorizer(v interfaces.StakeVerifier, cacheSize int, cacheTTL time.Duration, also ...Capability) *StakeAuthorizer {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	required := map[Capability]struct{}{CapabilityStaked: {}}
	for _, c := range also {
		required[c] = struct{}{}
	}
	return &StakeAuthorizer{
		verifier: v,
		cache:    expirable.NewLRU[string, bool](cacheSize, nil, cacheTTL),
		required: required,
	}
}

// Requires 判断 capability 是否需要质押
func (a *StakeAuthorizer) Requires(capability Capability) bool {
	_, ok := a.required[capability]
	return ok
}

// Authorize 实现 Authorizer
func (a *StakeAuthorizer) Authorize(ctx context.Context, caller *Caller, capability Capability) error {
	if !a.Requires(capability) {
		return nil
	}
	key := string(caller.PublicKey)
	if ok, hit := a.cache.Get(key); hit {
		if !ok {
			return newError(ReasonUnauthorized, "not staked")
		}
		return nil
	}

	ok, err := a.verifier.IsStaked(ctx, caller.PublicKey)
	if err != nil {
		// 链查询失败不缓存，下次重试
		logger.Warn("质押查询失败", "peer", caller.NodeID.ShortString(), "err", err)
		return newError(ReasonUnauthorized, "stake lookup: %v", err)
	}
	a.cache.Add(key, ok)
	if !ok {
		return newError(ReasonUnauthorized, "not staked")
	}
	return nil
}
