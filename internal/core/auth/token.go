package auth

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

// tokenTimeLayout 令牌过期时间的文本格式
const tokenTimeLayout = time.RFC3339Nano

// TokenIssuer 签发并缓存本节点的访问令牌
//
// 令牌剩余有效期不足一半时重新签发。
type TokenIssuer struct {
	key      crypto.PrivateKey
	pubRaw   []byte
	username string
	ttl      time.Duration
	clk      clock.Clock

	mu    sync.Mutex
	token *pb.AccessToken
	exp   time.Time
}

// NewTokenIssuer 创建令牌签发器
func NewTokenIssuer(key crypto.PrivateKey, username string, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	pubRaw, err := crypto.MarshalPublicKey(key.GetPublic())
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{key: key, pubRaw: pubRaw, username: username, ttl: ttl, clk: clk}, nil
}

// Token 返回当前有效的令牌
func (ti *TokenIssuer) Token() (*pb.AccessToken, error) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	now := ti.clk.Now()
	if ti.token != nil && ti.exp.Sub(now) > ti.ttl/2 {
		return ti.token, nil
	}

	exp := now.Add(ti.ttl).UTC()
	tok := &pb.AccessToken{
		Username:       ti.username,
		PublicKey:      ti.pubRaw,
		ExpirationTime: exp.Format(tokenTimeLayout),
	}
	sig, err := ti.key.Sign(tok.SigningBytes())
	if err != nil {
		return nil, err
	}
	tok.Signature = sig
	ti.token, ti.exp = tok, exp
	return tok, nil
}

// VerifyToken 校验令牌签名与有效期，返回令牌中的公钥
func VerifyToken(tok *pb.AccessToken, now time.Time) (crypto.PublicKey, error) {
	if tok == nil || len(tok.PublicKey) == 0 {
		return nil, newError(ReasonMissingAuth, "no access token")
	}
	pub, err := crypto.UnmarshalPublicKeyBytes(tok.PublicKey)
	if err != nil {
		return nil, newError(ReasonBadSignature, "token public key: %v", err)
	}
	ok, err := pub.Verify(tok.SigningBytes(), tok.Signature)
	if err != nil || !ok {
		return nil, newError(ReasonBadSignature, "token signature")
	}
	exp, err := time.Parse(tokenTimeLayout, tok.ExpirationTime)
	if err != nil {
		return nil, newError(ReasonExpiredToken, "bad expiration %q", tok.ExpirationTime)
	}
	if !now.Before(exp) {
		return nil, newError(ReasonExpiredToken, "expired at %s", tok.ExpirationTime)
	}
	return pub, nil
}
