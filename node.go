package meshdht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/identity"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/servicer"
	"github.com/dep2p/go-meshdht/internal/discovery/dht"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("meshdht")

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// StoreRequest 批量写入的一条请求
	StoreRequest = dht.StoreRequest

	// Value 读取到的值：普通值或字典
	Value = dht.Value

	// ValueWithExpiration 带过期时间的值
	ValueWithExpiration = dht.ValueWithExpiration

	// Status 节点状态快照
	Status = dht.Status

	// AppHandler 应用方法处理函数
	AppHandler = servicer.AppHandler

	// Capability 方法所需能力
	Capability = auth.Capability

	// Caller 已认证的调用方
	Caller = auth.Caller
)

// 能力
const (
	CapabilityNone   = auth.CapabilityNone
	CapabilityDHT    = auth.CapabilityDHT
	CapabilityStaked = auth.CapabilityStaked
)

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 一个 DHT 节点
//
// 持有 Fx 应用及其创建的组件。New 之后调用 Start 启动，
// Stop 或 Close 之后不可再次启动。
type Node struct {
	opts *options
	app  *fx.App

	// 由 Fx 注入
	identity *identity.Identity
	svc      *servicer.Servicer
	dht      *dht.DHT
	metrics  *metrics.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建节点但不启动
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{opts: o}
	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 快捷启动函数，等价于 New() + node.Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// Start 启动全部组件；配置了引导节点时在返回前完成引导
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	logger.Info("正在启动节点", "node", n.identity.ID().ShortString())
	if err := n.app.Start(ctx); err != nil {
		logger.Error("启动节点失败", "error", err)
		return err
	}
	n.started = true
	logger.Info("节点启动成功", "addr", n.svc.LocalAddr())
	return nil
}

// Stop 停止全部组件（按启动的反向顺序），之后不可再次启动
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	n.started = false
	n.closed = true
	if err := n.app.Stop(ctx); err != nil {
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已停止")
	return nil
}

// Close 停止并释放资源
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var err error
	if n.started {
		n.started = false
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = multierr.Append(err, n.app.Stop(ctx))
	}
	err = multierr.Append(err, n.app.Err())
	if err != nil {
		logger.Warn("关闭节点时出错", "error", err)
	}
	return err
}

func (n *Node) checkRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.closed:
		return ErrNodeClosed
	case !n.started:
		return ErrNotStarted
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.identity.ID()
}

// Addr 返回传输地址
func (n *Node) Addr() string {
	return n.svc.LocalAddr()
}

// DHT 返回底层 DHT
func (n *Node) DHT() *dht.DHT {
	return n.dht
}

// Metrics 返回指标集合，未启用时为 nil
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Status 返回状态快照
func (n *Node) Status() Status {
	return n.dht.Status()
}

// ════════════════════════════════════════════════════════════════════════════
//                              DHT 操作
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 连接引导节点；addrs 为空时使用配置中的引导节点
func (n *Node) Bootstrap(ctx context.Context, addrs ...string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.dht.Bootstrap(ctx, addrs...)
}

// Store 写入一条记录，subkey 非空时写入字典子键
func (n *Node) Store(ctx context.Context, key, subkey, value []byte, ttl time.Duration) (bool, error) {
	if err := n.checkRunning(); err != nil {
		return false, err
	}
	return n.dht.Store(ctx, key, subkey, value, ttl)
}

// StoreMany 批量写入
func (n *Node) StoreMany(ctx context.Context, reqs []StoreRequest) ([]bool, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.StoreMany(ctx, reqs)
}

// Get 读取 key
func (n *Node) Get(ctx context.Context, key []byte) (*Value, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.Get(ctx, key)
}

// GetSubkey 读取字典子键
func (n *Node) GetSubkey(ctx context.Context, key, subkey []byte) (ValueWithExpiration, error) {
	if err := n.checkRunning(); err != nil {
		return ValueWithExpiration{}, err
	}
	return n.dht.GetSubkey(ctx, key, subkey)
}

// GetMany 并发读取多个 key
func (n *Node) GetMany(ctx context.Context, keys [][]byte) ([]*Value, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.GetMany(ctx, keys)
}

// FindNode 查找距离 id 最近的节点
func (n *Node) FindNode(ctx context.Context, id types.NodeID) ([]*types.Contact, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.FindNode(ctx, id)
}

// ════════════════════════════════════════════════════════════════════════════
//                              应用方法
// ════════════════════════════════════════════════════════════════════════════

// RegisterMethod 注册应用方法，可在启动前调用
func (n *Node) RegisterMethod(name string, capability Capability, h AppHandler) error {
	return n.dht.RegisterMethod(name, capability, h)
}

// CallPeer 调用对端的应用方法
func (n *Node) CallPeer(ctx context.Context, addr, method string, payload []byte, opts ...servicer.CallOption) ([]byte, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.CallPeer(ctx, addr, method, payload, opts...)
}

// ExpectPeer 要求响应方 NodeID 为 id 的调用选项
func ExpectPeer(id types.NodeID) servicer.CallOption {
	return servicer.WithExpectPeer(id)
}

// Compressed 对载荷启用 zstd 压缩的调用选项
func Compressed() servicer.CallOption {
	return servicer.WithCompression()
}
