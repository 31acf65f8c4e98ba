package auth

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Key        crypto.PrivateKey `name:"node_key"`
	UnifiedCfg *config.Config    `optional:"true"`
	Clock      clock.Clock       `optional:"true"`

	// StakeVerifier 外部链客户端，未提供时 CapabilityStaked 方法一律拒绝；
	// 提供时 DHT 基础协议的请求与响应也要求对端已质押（auth.open_dht 可关闭）
	StakeVerifier interfaces.StakeVerifier `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Envelope   *Envelope
	Authorizer Authorizer

	// PeerAuthorizer 出站调用时校验响应方，只含质押校验
	PeerAuthorizer Authorizer `name:"peer_authorizer"`
}

// ConfigFromUnified 从统一配置创建信封配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Username = cfg.Identity.Username
	c.FreshnessWindow = cfg.Auth.FreshnessWindow.Duration()
	c.TokenTTL = cfg.Auth.TokenTTL.Duration()
	c.ReplayCacheSize = cfg.Auth.ReplayCacheSize
	return c
}

// RateLimitFromUnified 从统一配置创建限流配置，未启用时返回 false
func RateLimitFromUnified(cfg *config.Config) (RateLimitConfig, bool) {
	rl := DefaultRateLimitConfig()
	if cfg == nil || !cfg.Auth.RateLimit.Enabled {
		return rl, false
	}
	rl.RequestsPerSecond = cfg.Auth.RateLimit.RequestsPerSecond
	rl.Burst = cfg.Auth.RateLimit.Burst
	rl.MaxViolations = cfg.Auth.RateLimit.MaxViolations
	rl.BlockDuration = cfg.Auth.RateLimit.BlockDuration.Duration()
	return rl, true
}

// ProvideServices 提供认证信封与授权链
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	cfg := ConfigFromUnified(input.UnifiedCfg)
	if input.Clock != nil {
		cfg.Clock = input.Clock
	}

	env, err := New(input.Key, cfg)
	if err != nil {
		return ModuleOutput{}, err
	}

	var chain []Authorizer
	if rl, ok := RateLimitFromUnified(input.UnifiedCfg); ok {
		chain = append(chain, NewRateLimitAuthorizer(rl, cfg.Clock))
	}

	verifier := input.StakeVerifier
	var also []Capability
	if verifier == nil {
		verifier = denyStake
	} else if input.UnifiedCfg == nil || !input.UnifiedCfg.Auth.OpenDHT {
		also = append(also, CapabilityDHT)
	}
	stakeTTL := DefaultStakeCacheTTL
	if input.UnifiedCfg != nil && input.UnifiedCfg.Auth.StakeCacheTTL > 0 {
		stakeTTL = input.UnifiedCfg.Auth.StakeCacheTTL.Duration()
	}
	stake := NewStakeAuthorizer(verifier, 0, stakeTTL, also...)
	chain = append(chain, stake)

	return ModuleOutput{
		Envelope:       env,
		Authorizer:     Chain(chain...),
		PeerAuthorizer: stake,
	}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("auth",
		fx.Provide(ProvideServices),
	)
}
