package interfaces

import (
	"context"
	"fmt"
)

//go:generate mockgen -destination=mocks/transport.go -package=mocks . Transport

// Handler 入站请求处理函数
//
// from 为对端在帧中声明的监听地址，可用于回拨（如 ping validate）。
type Handler func(ctx context.Context, from, method string, body []byte) ([]byte, error)

// Transport 请求/响应传输能力
//
// 每次 Call 发送一帧并等待对应的响应帧。实现需要保证：
//   - ctx 取消或超时后立即返回
//   - 远端处理失败时返回 *RemoteError
//   - 所有方法并发安全
type Transport interface {
	// Call 向 addr 发送请求并等待响应
	Call(ctx context.Context, addr, method string, body []byte) ([]byte, error)

	// SetHandler 设置入站请求处理函数，须在 Start 之前调用
	SetHandler(h Handler)

	// Start 开始监听
	Start(ctx context.Context) error

	// LocalAddr 返回对外公布的地址
	LocalAddr() string

	// Close 关闭传输
	Close() error
}

// RemoteError 远端返回的错误
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}
