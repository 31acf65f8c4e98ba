// Package memory 提供进程内传输实现
//
// 同一 Network 上的 Transport 互相可达。请求与响应都会经过
// Frame 编解码，行为与网络传输一致。Network 支持故障注入：
//
//	net.SetDown(addr, true)        // 节点无响应，调用方等到超时
//	net.Partition(a, b)            // a、b 之间互不可达
//	net.SetLatency(10*time.Millisecond)
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-meshdht/internal/core/transport"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

var logger = log.Logger("transport/memory")

// Network 进程内网络
type Network struct {
	mu         sync.RWMutex
	nodes      map[string]*Transport
	down       map[string]bool
	partitions map[[2]string]bool
	latency    time.Duration
	next       int
}

// NewNetwork 创建进程内网络
func NewNetwork() *Network {
	return &Network{
		nodes:      make(map[string]*Transport),
		down:       make(map[string]bool),
		partitions: make(map[[2]string]bool),
	}
}

// NewTransport 在网络上创建传输；addr 为空时自动分配
func (n *Network) NewTransport(addr string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.next++
		addr = fmt.Sprintf("mem-%d", n.next)
	}
	t := &Transport{net: n, addr: addr}
	n.nodes[addr] = t
	return t
}

// SetDown 设置节点无响应
func (n *Network) SetDown(addr string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[addr] = down
}

// Partition 切断两个地址之间的通信
func (n *Network) Partition(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitions[pairKey(a, b)] = true
}

// Heal 恢复两个地址之间的通信
func (n *Network) Heal(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitions, pairKey(a, b))
}

// SetLatency 设置单向延迟
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = d
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// route 查找目标；silent 为 true 表示请求会被静默丢弃
func (n *Network) route(from, to string) (target *Transport, silent bool, latency time.Duration) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[to]
	if !ok {
		return nil, false, 0
	}
	if n.down[to] || n.down[from] || n.partitions[pairKey(from, to)] {
		return nil, true, 0
	}
	return t, false, n.latency
}

func (n *Network) remove(addr string, t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[addr] == t {
		delete(n.nodes, addr)
	}
}

// Transport 进程内传输
type Transport struct {
	net  *Network
	addr string

	mu      sync.RWMutex
	handler interfaces.Handler
	started bool
	closed  bool
}

var _ interfaces.Transport = (*Transport)(nil)

// SetHandler 设置入站请求处理函数
func (t *Transport) SetHandler(h interfaces.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Start 开始接收请求
func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrTransportClosed
	}
	t.started = true
	return nil
}

// LocalAddr 返回本地地址
func (t *Transport) LocalAddr() string {
	return t.addr
}

// Close 关闭传输，之后该地址不可达
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.net.remove(t.addr, t)
	return nil
}

func (t *Transport) ready() (interfaces.Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler, t.started && !t.closed && t.handler != nil
}

// Call 向 addr 发送请求并等待响应
func (t *Transport) Call(ctx context.Context, addr, method string, body []byte) ([]byte, error) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, transport.ErrTransportClosed
	}

	target, silent, latency := t.net.route(t.addr, addr)
	if silent {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnreachable, addr)
	}
	handler, ok := target.ready()
	if !ok {
		return nil, fmt.Errorf("%w: %s not serving", transport.ErrUnreachable, addr)
	}

	req := (&pb.Frame{Method: method, From: t.addr, Body: body}).Marshal()

	type result struct {
		frame pb.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if err := sleepCtx(ctx, latency); err != nil {
			r.err = err
			done <- r
			return
		}
		var in pb.Frame
		if err := in.Unmarshal(req); err != nil {
			r.err = err
			done <- r
			return
		}
		resp, err := handler(ctx, in.From, in.Method, in.Body)
		out := pb.Frame{Body: resp}
		if err != nil {
			out = pb.Frame{Error: err.Error()}
		}
		if err := sleepCtx(ctx, latency); err != nil {
			r.err = err
			done <- r
			return
		}
		r.err = r.frame.Unmarshal(out.Marshal())
		done <- r
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.frame.Error != "" {
			logger.Debug("远端返回错误", "addr", addr, "method", method, "error", r.frame.Error)
			return nil, &interfaces.RemoteError{Method: method, Message: r.frame.Error}
		}
		return r.frame.Body, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
