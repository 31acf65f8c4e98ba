package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/tests/mocks"
)

func testCaller(pub string) *Caller {
	return &Caller{PublicKey: []byte(pub)}
}

// TestStakeAuthorizer 测试质押授权与缓存
func TestStakeAuthorizer(t *testing.T) {
	verifier := &mocks.MockStakeVerifier{
		IsStakedFunc: func(_ context.Context, pk []byte) (bool, error) {
			return string(pk) == "staked", nil
		},
	}
	a := NewStakeAuthorizer(verifier, 16, time.Minute)
	ctx := context.Background()

	assert.NoError(t, a.Authorize(ctx, testCaller("staked"), CapabilityStaked))
	assert.NoError(t, a.Authorize(ctx, testCaller("staked"), CapabilityStaked))
	assert.Equal(t, 1, verifier.CallCount(), "结果应被缓存")

	assert.ErrorIs(t, a.Authorize(ctx, testCaller("nobody"), CapabilityStaked), ErrUnauthorized)
	assert.NoError(t, a.Authorize(ctx, testCaller("nobody"), CapabilityDHT), "非 staked 能力不查询链")
}

// TestStakeAuthorizer_LookupError 测试链查询失败不缓存
func TestStakeAuthorizer_LookupError(t *testing.T) {
	verifier := &mocks.MockStakeVerifier{
		IsStakedFunc: func(context.Context, []byte) (bool, error) {
			return false, errors.New("rpc down")
		},
	}
	a := NewStakeAuthorizer(verifier, 16, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, a.Authorize(context.Background(), testCaller("x"), CapabilityStaked), ErrUnauthorized)
	}
	assert.Equal(t, 2, verifier.CallCount())
}

// TestRateLimitAuthorizer_Blocks 测试超限后临时封禁
func TestRateLimitAuthorizer_Blocks(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateLimitAuthorizer(RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		MaxViolations:     2,
		BlockDuration:     time.Minute,
	}, clk)
	ctx := context.Background()
	peer := testCaller("peer")

	assert.NoError(t, r.Authorize(ctx, peer, CapabilityDHT))
	assert.NoError(t, r.Authorize(ctx, peer, CapabilityDHT))
	assert.ErrorIs(t, r.Authorize(ctx, peer, CapabilityDHT), ErrRateLimited)
	assert.False(t, r.Blocked(peer.PublicKey))

	assert.ErrorIs(t, r.Authorize(ctx, peer, CapabilityDHT), ErrRateLimited)
	assert.True(t, r.Blocked(peer.PublicKey), "第二次超限后封禁")

	// 其他对端不受影响
	assert.NoError(t, r.Authorize(ctx, testCaller("other"), CapabilityDHT))

	clk.Add(61 * time.Second)
	assert.False(t, r.Blocked(peer.PublicKey))
	assert.NoError(t, r.Authorize(ctx, peer, CapabilityDHT))
	t.Log("✅ 封禁到期后恢复")
}

// TestChain 测试授权链
func TestChain(t *testing.T) {
	deny := AuthorizerFunc(func(context.Context, *Caller, Capability) error { return ErrUnauthorized })
	ctx := context.Background()

	assert.NoError(t, Chain(AllowAll, nil).Authorize(ctx, testCaller("a"), CapabilityDHT))
	assert.ErrorIs(t, Chain(AllowAll, deny).Authorize(ctx, testCaller("a"), CapabilityDHT), ErrUnauthorized)
}

// TestProvideServices_Chain 测试模块按配置组装授权链
func TestProvideServices_Chain(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)

	cfg := config.NewConfig()
	cfg.Auth.RateLimit.Enabled = true
	cfg.Auth.RateLimit.RequestsPerSecond = 1
	cfg.Auth.RateLimit.Burst = 1
	cfg.Auth.RateLimit.MaxViolations = 100

	out, err := ProvideServices(ModuleInput{Key: priv, UnifiedCfg: cfg, Clock: clock.NewMock()})
	require.NoError(t, err)
	require.NotNil(t, out.Envelope)

	caller := &Caller{PublicKey: []byte("peer")}
	ctx := context.Background()
	require.NoError(t, out.Authorizer.Authorize(ctx, caller, CapabilityDHT))
	// 模拟时钟不前进，第二个请求超出令牌桶
	assert.ErrorIs(t, out.Authorizer.Authorize(ctx, caller, CapabilityDHT), ErrRateLimited)

	// 未提供 StakeVerifier 时 staked 方法被拒绝
	other := &Caller{PublicKey: []byte("other")}
	assert.ErrorIs(t, out.Authorizer.Authorize(ctx, other, CapabilityStaked), ErrUnauthorized)
	t.Log("✅ 授权链组装正确")
}

// TestStakeAuthorizer_RequiresDHT 测试配置额外能力后 DHT 请求也校验质押
func TestStakeAuthorizer_RequiresDHT(t *testing.T) {
	verifier := &mocks.MockStakeVerifier{
		IsStakedFunc: func(_ context.Context, pk []byte) (bool, error) {
			return string(pk) == "staked", nil
		},
	}
	a := NewStakeAuthorizer(verifier, 16, time.Minute, CapabilityDHT)
	ctx := context.Background()

	assert.True(t, a.Requires(CapabilityStaked))
	assert.True(t, a.Requires(CapabilityDHT))
	assert.False(t, a.Requires(CapabilityNone))

	assert.NoError(t, a.Authorize(ctx, testCaller("staked"), CapabilityDHT))
	assert.ErrorIs(t, a.Authorize(ctx, testCaller("nobody"), CapabilityDHT), ErrUnauthorized)
	assert.NoError(t, a.Authorize(ctx, testCaller("nobody"), CapabilityNone))
	t.Log("✅ 未质押对端无法调用 DHT 方法")
}

// TestProvideServices_StakeOnDHT 测试提供 StakeVerifier 后请求与响应方向都校验质押
func TestProvideServices_StakeOnDHT(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	verifier := &mocks.MockStakeVerifier{
		IsStakedFunc: func(_ context.Context, pk []byte) (bool, error) {
			return string(pk) == "staked", nil
		},
	}
	ctx := context.Background()
	nobody := testCaller("nobody")

	out, err := ProvideServices(ModuleInput{Key: priv, UnifiedCfg: config.NewConfig(), StakeVerifier: verifier})
	require.NoError(t, err)
	require.NotNil(t, out.PeerAuthorizer)
	assert.ErrorIs(t, out.Authorizer.Authorize(ctx, nobody, CapabilityDHT), ErrUnauthorized)
	assert.ErrorIs(t, out.PeerAuthorizer.Authorize(ctx, nobody, CapabilityDHT), ErrUnauthorized)
	assert.NoError(t, out.Authorizer.Authorize(ctx, testCaller("staked"), CapabilityDHT))

	// open_dht 只放开 DHT 基础协议
	cfg := config.NewConfig()
	cfg.Auth.OpenDHT = true
	out, err = ProvideServices(ModuleInput{Key: priv, UnifiedCfg: cfg, StakeVerifier: verifier})
	require.NoError(t, err)
	assert.NoError(t, out.Authorizer.Authorize(ctx, nobody, CapabilityDHT))
	assert.NoError(t, out.PeerAuthorizer.Authorize(ctx, nobody, CapabilityDHT))
	assert.ErrorIs(t, out.Authorizer.Authorize(ctx, nobody, CapabilityStaked), ErrUnauthorized)

	// 未提供 StakeVerifier 时 DHT 保持开放
	out, err = ProvideServices(ModuleInput{Key: priv})
	require.NoError(t, err)
	assert.NoError(t, out.PeerAuthorizer.Authorize(ctx, nobody, CapabilityDHT))
	t.Log("✅ DHT 质押校验按配置生效")
}
