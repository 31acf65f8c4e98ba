package transport

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport: closed")

	// ErrUnreachable 地址不可达
	ErrUnreachable = errors.New("transport: address unreachable")

	// ErrNoHandler 未设置入站处理函数
	ErrNoHandler = errors.New("transport: no handler")

	// ErrMessageTooLarge 帧超过上限
	ErrMessageTooLarge = errors.New("transport: message too large")
)
