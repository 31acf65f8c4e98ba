package config

import (
	"errors"
	"time"
)

// AuthConfig 认证与授权配置
type AuthConfig struct {
	// FreshnessWindow 请求时间戳允许的最大偏差
	FreshnessWindow Duration `json:"freshness_window"`

	// TokenTTL 访问令牌有效期
	TokenTTL Duration `json:"token_ttl"`

	// ReplayCacheSize nonce 缓存上限，满且无过期条目时拒绝新请求
	ReplayCacheSize int `json:"replay_cache_size"`

	// RateLimit 按对端限流
	RateLimit RateLimitConfig `json:"rate_limit"`

	// StakeCacheTTL 质押查询结果缓存时长
	StakeCacheTTL Duration `json:"stake_cache_ttl"`

	// OpenDHT 为 true 时即使接入了质押校验，ping/store/find 也不要求对端质押
	OpenDHT bool `json:"open_dht"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用
	Enabled bool `json:"enabled"`

	// RequestsPerSecond 每个对端的稳定速率
	RequestsPerSecond float64 `json:"requests_per_second"`

	// Burst 突发上限
	Burst int `json:"burst"`

	// MaxViolations 连续超限多少次后封禁
	MaxViolations int `json:"max_violations"`

	// BlockDuration 封禁时长
	BlockDuration Duration `json:"block_duration"`
}

// DefaultAuthConfig 返回默认认证配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		FreshnessWindow: Duration(time.Minute),
		TokenTTL:        Duration(time.Minute),
		ReplayCacheSize: 100_000,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			MaxViolations:     20,
			BlockDuration:     Duration(time.Minute),
		},
		StakeCacheTTL: Duration(5 * time.Minute),
	}
}

// Validate 验证认证配置
func (c *AuthConfig) Validate() error {
	if c.FreshnessWindow <= 0 {
		return errors.New("auth: freshness_window must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("auth: token_ttl must be positive")
	}
	if c.ReplayCacheSize <= 0 {
		return errors.New("auth: replay_cache_size must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("auth: rate_limit.requests_per_second must be positive")
	}
	return nil
}
