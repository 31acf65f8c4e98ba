package servicer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("core/servicer")

// DefaultRPCTimeout 默认单次调用超时
const DefaultRPCTimeout = 5 * time.Second

// Options 构造选项
type Options struct {
	// RPCTimeout 单次出站调用超时
	RPCTimeout time.Duration

	// Authorizer 能力授权器，为空时放行全部
	Authorizer auth.Authorizer

	// PeerAuthorizer 出站调用时校验响应方，为空时不校验
	PeerAuthorizer auth.Authorizer

	// Metrics 指标，可为 nil
	Metrics *metrics.Metrics
}

// Servicer 方法分发与调用
type Servicer struct {
	env       *auth.Envelope
	transport interfaces.Transport
	authz     auth.Authorizer
	peerAuthz auth.Authorizer
	registry  *Registry
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// New 创建 Servicer 并接管传输的入站处理
func New(env *auth.Envelope, tr interfaces.Transport, opts Options) *Servicer {
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = DefaultRPCTimeout
	}
	if opts.Authorizer == nil {
		opts.Authorizer = auth.AllowAll
	}
	if opts.PeerAuthorizer == nil {
		opts.PeerAuthorizer = auth.AllowAll
	}
	s := &Servicer{
		env:       env,
		transport: tr,
		authz:     opts.Authorizer,
		peerAuthz: opts.PeerAuthorizer,
		registry:  NewRegistry(),
		timeout:   opts.RPCTimeout,
		metrics:   opts.Metrics,
	}
	tr.SetHandler(s.handle)
	return s
}

// Register 注册方法
func (s *Servicer) Register(m Method) error {
	if err := s.registry.Register(m); err != nil {
		return err
	}
	logger.Debug("注册方法", "method", m.Name, "capability", string(m.Capability))
	return nil
}

// Methods 返回已注册方法名
func (s *Servicer) Methods() []string {
	return s.registry.Names()
}

// Start 启动传输
func (s *Servicer) Start(ctx context.Context) error {
	return s.transport.Start(ctx)
}

// Close 关闭传输
func (s *Servicer) Close() error {
	return s.transport.Close()
}

// LocalAddr 返回本节点传输地址
func (s *Servicer) LocalAddr() string {
	return s.transport.LocalAddr()
}

// NodeID 返回本节点 ID
func (s *Servicer) NodeID() types.NodeID {
	return s.env.NodeID()
}

// PublicKey 返回本节点序列化公钥
func (s *Servicer) PublicKey() []byte {
	return s.env.PublicKey()
}

// Envelope 返回认证信封
func (s *Servicer) Envelope() *auth.Envelope {
	return s.env
}

// RPCTimeout 返回单次调用超时
func (s *Servicer) RPCTimeout() time.Duration {
	return s.timeout
}

// ============================================================================
//                              入站
// ============================================================================

// handle 传输层入站回调
func (s *Servicer) handle(ctx context.Context, from, method string, msg []byte) (resp []byte, err error) {
	start := time.Now()
	result := metrics.ResultOK
	s.metrics.LogRecvMessage(len(msg))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("处理函数崩溃", "method", method, "panic", fmt.Sprint(r))
			resp, err = nil, ErrHandlerPanic
			result = metrics.ResultError
		}
		s.metrics.ObserveRPC(method, metrics.DirectionInbound, result, time.Since(start))
		s.metrics.LogSentMessage(len(resp))
	}()

	m, ok := s.registry.Lookup(method)
	if !ok {
		result = metrics.ResultError
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	caller, err := s.env.VerifyRequest(msg)
	if err != nil {
		result = metrics.ResultDenied
		s.reject(method, from, err)
		return nil, err
	}
	if err := s.authz.Authorize(ctx, caller, m.Capability); err != nil {
		result = metrics.ResultDenied
		s.reject(method, from, err)
		return nil, err
	}

	_, body, err := pb.Open(msg)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	out, err := m.Handler(ctx, &Request{Caller: caller, From: from, Method: method, Body: body})
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return s.env.SignResponse(out, caller.Nonce)
}

func (s *Servicer) reject(method, from string, err error) {
	var ae *auth.Error
	if errors.As(err, &ae) {
		s.metrics.AuthRejected(ae.Reason.String())
	}
	logger.Debug("拒绝请求", "method", method, "from", from, "error", err)
}

// ============================================================================
//                              出站
// ============================================================================

// CallOption 调用选项
type CallOption func(*callOptions)

type callOptions struct {
	expectPeer     types.NodeID
	serviceKey     []byte
	compress       bool
	peerCapability *auth.Capability
}

// WithExpectPeer 要求响应方的 NodeID 等于 id
func WithExpectPeer(id types.NodeID) CallOption {
	return func(o *callOptions) { o.expectPeer = id }
}

// WithServiceKey 将请求限定给持有该公钥的节点
func WithServiceKey(pub []byte) CallOption {
	return func(o *callOptions) { o.serviceKey = pub }
}

// WithPeerCapability 指定响应方需要具备的能力
//
// 未指定时取本地同名方法声明的能力，本地没有该方法时为 CapabilityNone。
func WithPeerCapability(c auth.Capability) CallOption {
	return func(o *callOptions) { o.peerCapability = &c }
}

// WithCompression 使用 zstd 压缩应用载荷
func WithCompression() CallOption {
	return func(o *callOptions) { o.compress = true }
}

// Response 已验证的响应
type Response struct {
	// Peer 响应方身份
	Peer *auth.Caller

	// Body 去掉认证字段后的消息体
	Body []byte
}

// Invoke 签名 body 并调用远端方法，返回已验证的响应
//
// body 为不含认证字段（字段 1）的消息编码。
func (s *Servicer) Invoke(ctx context.Context, addr, method string, body []byte, opts ...CallOption) (*Response, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	msg, nonce, err := s.env.SignRequest(body, o.serviceKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	s.metrics.LogSentMessage(len(msg))
	raw, err := s.transport.Call(ctx, addr, method, msg)
	if err != nil {
		result := metrics.ResultError
		if ctx.Err() != nil {
			result = metrics.ResultTimeout
		}
		s.metrics.ObserveRPC(method, metrics.DirectionOutbound, result, time.Since(start))
		return nil, err
	}
	s.metrics.LogRecvMessage(len(raw))

	peer, err := s.env.VerifyResponse(raw, nonce, o.expectPeer)
	if err != nil {
		s.metrics.ObserveRPC(method, metrics.DirectionOutbound, metrics.ResultDenied, time.Since(start))
		logger.Debug("响应验证失败", "method", method, "addr", addr, "error", err)
		return nil, err
	}
	if err := s.peerAuthz.Authorize(ctx, peer, s.peerCapability(method, &o)); err != nil {
		s.metrics.ObserveRPC(method, metrics.DirectionOutbound, metrics.ResultDenied, time.Since(start))
		logger.Debug("响应方未通过授权", "method", method, "peer", peer.NodeID.ShortString(), "error", err)
		return nil, err
	}
	_, rest, err := pb.Open(raw)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRPC(method, metrics.DirectionOutbound, metrics.ResultOK, time.Since(start))
	return &Response{Peer: peer, Body: rest}, nil
}

func (s *Servicer) peerCapability(method string, o *callOptions) auth.Capability {
	if o.peerCapability != nil {
		return *o.peerCapability
	}
	if m, ok := s.registry.Lookup(method); ok {
		return m.Capability
	}
	return auth.CapabilityNone
}
