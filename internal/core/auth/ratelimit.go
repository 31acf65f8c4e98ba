package auth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// RequestsPerSecond 每个对端的稳定速率
	RequestsPerSecond float64

	// Burst 突发上限
	Burst int

	// MaxViolations 连续超限多少次后临时封禁
	MaxViolations int

	// BlockDuration 封禁时长
	BlockDuration time.Duration

	// MaxPeers 跟踪的对端数量上限
	MaxPeers int

	// IdleTimeout 对端状态在无请求后保留的时长
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		MaxViolations:     20,
		BlockDuration:     time.Minute,
		MaxPeers:          10_000,
		IdleTimeout:       10 * time.Minute,
	}
}

type peerLimit struct {
	limiter      *rate.Limiter
	violations   int
	blockedUntil time.Time
}

// RateLimitAuthorizer 按对端公钥的令牌桶限流
//
// 连续超限达到 MaxViolations 后，在 BlockDuration 内拒绝该对端的全部请求。
type RateLimitAuthorizer struct {
	cfg RateLimitConfig
	clk clock.Clock

	mu    sync.Mutex
	peers *expirable.LRU[string, *peerLimit]
}

// NewRateLimitAuthorizer 创建限流授权器
func NewRateLimitAuthorizer(cfg RateLimitConfig, clk clock.Clock) *RateLimitAuthorizer {
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultRateLimitConfig()
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = def.MaxPeers
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimitAuthorizer{
		cfg:   cfg,
		clk:   clk,
		peers: expirable.NewLRU[string, *peerLimit](cfg.MaxPeers, nil, cfg.IdleTimeout),
	}
}

// Authorize 实现 Authorizer
func (r *RateLimitAuthorizer) Authorize(_ context.Context, caller *Caller, _ Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	key := string(caller.PublicKey)
	pl, ok := r.peers.Get(key)
	if !ok {
		pl = &peerLimit{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)}
	}
	// 每次访问都重新写入以刷新空闲过期时间
	defer r.peers.Add(key, pl)

	if now.Before(pl.blockedUntil) {
		return newError(ReasonRateLimited, "blocked until %s", pl.blockedUntil.Format(time.RFC3339))
	}

	if pl.limiter.AllowN(now, 1) {
		pl.violations = 0
		return nil
	}

	pl.violations++
	if r.cfg.MaxViolations > 0 && pl.violations >= r.cfg.MaxViolations {
		pl.blockedUntil = now.Add(r.cfg.BlockDuration)
		pl.violations = 0
		logger.Warn("对端请求过于频繁，临时封禁", "peer", caller.NodeID.ShortString(), "until", pl.blockedUntil)
	}
	return newError(ReasonRateLimited, "")
}

// Blocked 判断对端当前是否处于封禁期
func (r *RateLimitAuthorizer) Blocked(publicKey []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pl, ok := r.peers.Peek(string(publicKey))
	return ok && r.clk.Now().Before(pl.blockedUntil)
}
