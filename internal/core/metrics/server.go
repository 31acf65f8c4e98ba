package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-meshdht/pkg/lib/log"
)

var logger = log.Logger("core/metrics")

// Server 暴露 /metrics 的 HTTP 服务
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer 创建指标服务
func NewServer(m *Metrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标服务退出", "error", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", ln.Addr().String())
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Stop 关闭服务
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
