package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-meshdht/internal/core/transport"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

var logger = log.Logger("transport/quic")

// Config QUIC 传输配置
type Config struct {
	// ListenAddr 监听地址（host:port）
	ListenAddr string

	// AdvertiseAddr 对外公布地址，为空时使用实际监听地址
	AdvertiseAddr string

	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int

	// IdleTimeout 连接空闲超时
	IdleTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:0",
		MaxMessageSize: 4 << 20,
		IdleTimeout:    time.Minute,
	}
}

// Transport QUIC 传输
type Transport struct {
	cfg       Config
	serverTLS *tls.Config
	clientTLS *tls.Config
	quicConf  *quic.Config

	mu        sync.RWMutex
	handler   interfaces.Handler
	udpConn   *net.UDPConn
	qt        *quic.Transport
	listener  *quic.Listener
	conns     map[string]*quic.Conn
	advertise string
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建 QUIC 传输
func New(key crypto.PrivateKey, cfg Config) (*Transport, error) {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	serverTLS, clientTLS, err := newTLSConfig(key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:       cfg,
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		quicConf: &quic.Config{
			MaxIdleTimeout:     cfg.IdleTimeout,
			KeepAlivePeriod:    cfg.IdleTimeout / 3,
			MaxIncomingStreams: 1024,
		},
		conns:  make(map[string]*quic.Conn),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// SetHandler 设置入站请求处理函数
func (t *Transport) SetHandler(h interfaces.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Start 开始监听
func (t *Transport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrTransportClosed
	}
	if t.listener != nil {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("解析监听地址失败: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("监听 UDP 失败: %w", err)
	}
	qt := &quic.Transport{Conn: udpConn}
	ln, err := qt.Listen(t.serverTLS, t.quicConf)
	if err != nil {
		_ = udpConn.Close()
		return fmt.Errorf("QUIC 监听失败: %w", err)
	}

	t.udpConn = udpConn
	t.qt = qt
	t.listener = ln
	t.advertise = t.cfg.AdvertiseAddr
	if t.advertise == "" {
		t.advertise = udpConn.LocalAddr().String()
	}

	t.wg.Add(1)
	go t.acceptLoop(ln)

	logger.Info("QUIC 传输已启动", "addr", udpConn.LocalAddr().String(), "advertise", t.advertise)
	return nil
}

// LocalAddr 返回对外公布的地址
func (t *Transport) LocalAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.advertise
}

func (t *Transport) acceptLoop(ln *quic.Listener) {
	defer t.wg.Done()

	var catcher tec.TempErrCatcher
	for {
		conn, err := ln.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil && catcher.IsTemporary(err) {
				continue
			}
			if t.ctx.Err() == nil {
				logger.Warn("停止接受连接", "error", err)
			}
			return
		}
		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

func (t *Transport) serveConn(conn *quic.Conn) {
	defer t.wg.Done()
	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.serveStream(stream)
	}
}

func (t *Transport) serveStream(stream *quic.Stream) {
	defer t.wg.Done()
	defer stream.Close()

	req, _, err := readFrame(stream, t.cfg.MaxMessageSize)
	if err != nil {
		logger.Debug("读取请求帧失败", "error", err)
		stream.CancelRead(0)
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	resp := &pb.Frame{}
	if handler == nil {
		resp.Error = transport.ErrNoHandler.Error()
	} else if body, err := handler(t.ctx, req.From, req.Method, req.Body); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Body = body
	}
	if _, err := writeFrame(stream, resp); err != nil {
		logger.Debug("写入响应帧失败", "method", req.Method, "error", err)
	}
}

// Call 向 addr 发送请求并等待响应
func (t *Transport) Call(ctx context.Context, addr, method string, body []byte) ([]byte, error) {
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.dropConn(addr, conn)
		return nil, fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}
	// ctx 取消时中断阻塞的读写
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	if _, err := writeFrame(stream, &pb.Frame{Method: method, From: t.LocalAddr(), Body: body}); err != nil {
		return nil, ctxErr(ctx, err)
	}
	if err := stream.Close(); err != nil {
		return nil, ctxErr(ctx, err)
	}

	resp, _, err := readFrame(stream, t.cfg.MaxMessageSize)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	if resp.Error != "" {
		return nil, &interfaces.RemoteError{Method: method, Message: resp.Error}
	}
	return resp.Body, nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *Transport) dial(ctx context.Context, addr string) (*quic.Conn, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, transport.ErrTransportClosed
	}
	conn, ok := t.conns[addr]
	qt := t.qt
	t.mu.RUnlock()

	if ok && conn.Context().Err() == nil {
		return conn, nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}
	if qt == nil {
		return nil, errors.New("transport: not started")
	}
	conn, err = qt.Dial(ctx, udpAddr, t.clientTLS, t.quicConf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	}

	t.mu.Lock()
	if old, ok := t.conns[addr]; ok && old != conn {
		_ = old.CloseWithError(0, "replaced")
	}
	t.conns[addr] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *Transport) dropConn(addr string, conn *quic.Conn) {
	t.mu.Lock()
	if t.conns[addr] == conn {
		delete(t.conns, addr)
	}
	t.mu.Unlock()
	_ = conn.CloseWithError(0, "stream open failed")
}

// Close 关闭传输
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = nil
	ln, qt, udp := t.listener, t.qt, t.udpConn
	t.mu.Unlock()

	t.cancel()
	for _, c := range conns {
		_ = c.CloseWithError(0, "shutdown")
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	if qt != nil {
		_ = qt.Close()
	}
	if udp != nil {
		_ = udp.Close()
	}
	t.wg.Wait()
	return err
}
