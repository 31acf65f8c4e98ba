package auth

import (
	"bytes"
	"errors"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("core/auth")

// ============================================================================
//                              配置
// ============================================================================

// Config 认证信封配置
type Config struct {
	// Username 写入访问令牌的用户名
	Username string

	// FreshnessWindow 请求时间戳允许的最大偏差
	FreshnessWindow time.Duration

	// TokenTTL 访问令牌有效期
	TokenTTL time.Duration

	// ReplayCacheSize nonce 缓存上限
	ReplayCacheSize int

	// Clock 时钟（测试时注入 clock.NewMock()）
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FreshnessWindow: time.Minute,
		TokenTTL:        time.Minute,
		ReplayCacheSize: 100_000,
		Clock:           clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.FreshnessWindow <= 0 {
		return errors.New("auth: FreshnessWindow must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("auth: TokenTTL must be positive")
	}
	if c.ReplayCacheSize <= 0 {
		return errors.New("auth: ReplayCacheSize must be positive")
	}
	return nil
}

// ============================================================================
//                              调用方身份
// ============================================================================

// Caller 已通过认证的对端身份
type Caller struct {
	// PublicKey 序列化公钥（令牌中携带）
	PublicKey []byte
	// NodeID 由公钥派生
	NodeID types.NodeID
	// Username 令牌中的用户名
	Username string
	// Nonce 请求 nonce，响应需回显
	Nonce []byte
}

// ============================================================================
//                              Envelope
// ============================================================================

// Envelope 认证信封
//
// 持有本节点私钥，负责签名出站消息、验证入站消息。并发安全。
type Envelope struct {
	cfg    Config
	key    crypto.PrivateKey
	pubRaw []byte
	nodeID types.NodeID
	issuer *TokenIssuer
	replay *ReplayCache
	clk    clock.Clock
}

// New 创建认证信封
func New(key crypto.PrivateKey, cfg Config) (*Envelope, error) {
	if key == nil {
		return nil, crypto.ErrNilPrivateKey
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	issuer, err := NewTokenIssuer(key, cfg.Username, cfg.TokenTTL, cfg.Clock)
	if err != nil {
		return nil, err
	}

	// 时间戳可在 [now-W, now+W] 内被接受，nonce 需至少记住 2W；留出余量取 3W
	replayTTL := 3 * cfg.FreshnessWindow

	return &Envelope{
		cfg:    cfg,
		key:    key,
		pubRaw: issuer.pubRaw,
		nodeID: types.NodeIDFromPublicKey(issuer.pubRaw),
		issuer: issuer,
		replay: NewReplayCache(cfg.ReplayCacheSize, replayTTL, cfg.Clock),
		clk:    cfg.Clock,
	}, nil
}

// PublicKey 返回本节点序列化公钥
func (e *Envelope) PublicKey() []byte {
	return e.pubRaw
}

// NodeID 返回本节点 ID
func (e *Envelope) NodeID() types.NodeID {
	return e.nodeID
}

// Clock 返回使用的时钟
func (e *Envelope) Clock() clock.Clock {
	return e.clk
}

// NewNonce 生成随机 nonce（UUIDv4 的 16 字节）
func NewNonce() []byte {
	id := uuid.New()
	return id[:]
}

// ----------------------------------------------------------------------------
// 请求
// ----------------------------------------------------------------------------

// SignRequest 为请求体加上认证信封
//
// body 为不含字段 1 的消息编码；servicePublicKey 为空表示不限定接收方。
// 返回完整消息与本次使用的 nonce。
func (e *Envelope) SignRequest(body, servicePublicKey []byte) ([]byte, []byte, error) {
	tok, err := e.issuer.Token()
	if err != nil {
		return nil, nil, err
	}
	info := &pb.RequestAuthInfo{
		ClientAccessToken: tok,
		ServicePublicKey:  servicePublicKey,
		Time:              types.ToDHTTime(e.clk.Now()),
		Nonce:             NewNonce(),
	}
	sig, err := e.key.Sign(pb.Seal(info.Marshal(), body))
	if err != nil {
		return nil, nil, err
	}
	info.Signature = sig
	return pb.Seal(info.Marshal(), body), info.Nonce, nil
}

// VerifyRequest 验证入站请求
//
// 只有全部检查通过才会记录 nonce，因此失败的请求不会污染重放缓存。
func (e *Envelope) VerifyRequest(msg []byte) (*Caller, error) {
	authRaw, rest, err := pb.Open(msg)
	if err != nil {
		return nil, err
	}
	if authRaw == nil {
		return nil, newError(ReasonMissingAuth, "request has no auth field")
	}
	var info pb.RequestAuthInfo
	if err := info.Unmarshal(authRaw); err != nil {
		return nil, err
	}

	now := e.clk.Now()

	// 1. 令牌
	pub, err := VerifyToken(info.ClientAccessToken, now)
	if err != nil {
		return nil, err
	}

	// 2. 请求签名
	payload, err := pb.SigningPayload(authRaw, pb.FieldRequestSignature, rest)
	if err != nil {
		return nil, err
	}
	if ok, _ := pub.Verify(payload, info.Signature); !ok {
		return nil, newError(ReasonBadSignature, "request signature")
	}

	// 3. 接收方
	if len(info.ServicePublicKey) > 0 && !bytes.Equal(info.ServicePublicKey, e.pubRaw) {
		return nil, newError(ReasonWrongRecipient, "request addressed to another service")
	}

	// 4. 新鲜度
	skew := math.Abs(types.ToDHTTime(now) - info.Time)
	if math.IsNaN(skew) || skew > e.cfg.FreshnessWindow.Seconds() {
		return nil, newError(ReasonStaleTimestamp, "clock skew %.3fs", skew)
	}

	// 5. nonce
	if len(info.Nonce) == 0 {
		return nil, newError(ReasonMissingAuth, "empty nonce")
	}
	if err := e.replay.Record(info.Nonce); err != nil {
		logger.Debug("拒绝请求", "user", info.ClientAccessToken.Username, "reason", err)
		return nil, err
	}

	return &Caller{
		PublicKey: info.ClientAccessToken.PublicKey,
		NodeID:    types.NodeIDFromPublicKey(info.ClientAccessToken.PublicKey),
		Username:  info.ClientAccessToken.Username,
		Nonce:     info.Nonce,
	}, nil
}

// ----------------------------------------------------------------------------
// 响应
// ----------------------------------------------------------------------------

// SignResponse 为响应体加上认证信封并回显请求 nonce
func (e *Envelope) SignResponse(body, nonce []byte) ([]byte, error) {
	tok, err := e.issuer.Token()
	if err != nil {
		return nil, err
	}
	info := &pb.ResponseAuthInfo{ServiceAccessToken: tok, Nonce: nonce}
	sig, err := e.key.Sign(pb.Seal(info.Marshal(), body))
	if err != nil {
		return nil, err
	}
	info.Signature = sig
	return pb.Seal(info.Marshal(), body), nil
}

// VerifyResponse 验证响应签名与 nonce 回显
//
// expectPeer 非空时额外要求响应方 NodeID 与之相等。
func (e *Envelope) VerifyResponse(msg, nonce []byte, expectPeer types.NodeID) (*Caller, error) {
	authRaw, rest, err := pb.Open(msg)
	if err != nil {
		return nil, err
	}
	if authRaw == nil {
		return nil, newError(ReasonMissingAuth, "response has no auth field")
	}
	var info pb.ResponseAuthInfo
	if err := info.Unmarshal(authRaw); err != nil {
		return nil, err
	}

	pub, err := VerifyToken(info.ServiceAccessToken, e.clk.Now())
	if err != nil {
		return nil, err
	}
	payload, err := pb.SigningPayload(authRaw, pb.FieldResponseSignature, rest)
	if err != nil {
		return nil, err
	}
	if ok, _ := pub.Verify(payload, info.Signature); !ok {
		return nil, newError(ReasonBadSignature, "response signature")
	}
	if !bytes.Equal(info.Nonce, nonce) {
		return nil, newError(ReasonNonceMismatch, "")
	}

	caller := &Caller{
		PublicKey: info.ServiceAccessToken.PublicKey,
		NodeID:    types.NodeIDFromPublicKey(info.ServiceAccessToken.PublicKey),
		Username:  info.ServiceAccessToken.Username,
		Nonce:     info.Nonce,
	}
	if !expectPeer.IsEmpty() && caller.NodeID != expectPeer {
		return nil, newError(ReasonUnexpectedPeer, "got %s want %s", caller.NodeID.ShortString(), expectPeer.ShortString())
	}
	return caller, nil
}
