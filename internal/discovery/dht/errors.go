package dht

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound 键未找到
	ErrKeyNotFound = errors.New("dht: key not found")

	// ErrNoNodes 没有可用节点
	ErrNoNodes = errors.New("dht: no nodes available")

	// ErrDHTClosed DHT 已关闭
	ErrDHTClosed = errors.New("dht: DHT is closed")

	// ErrAlreadyStarted DHT 已启动
	ErrAlreadyStarted = errors.New("dht: DHT already started")

	// ErrNotStarted DHT 未启动
	ErrNotStarted = errors.New("dht: DHT not started")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrNilServicer Servicer 为空
	ErrNilServicer = errors.New("dht: servicer is nil")

	// ErrInvalidResponse 无效响应
	ErrInvalidResponse = errors.New("dht: invalid response")

	// ErrInvalidKey 无效键
	ErrInvalidKey = errors.New("dht: invalid key")

	// ErrNodeIDMismatch 声明的 NodeID 与认证身份不符
	ErrNodeIDMismatch = errors.New("dht: node ID mismatch")

	// ErrBootstrapFailed 所有引导节点均不可达
	ErrBootstrapFailed = errors.New("dht: all bootstrap peers unreachable")
)

// DHTError 带操作上下文的错误，errors.Is 可穿透到底层错误
type DHTError struct {
	Op      string
	Err     error
	Message string
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}
