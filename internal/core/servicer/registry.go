package servicer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dep2p/go-meshdht/internal/core/auth"
)

// Request 已通过认证的入站请求
type Request struct {
	// Caller 调用方身份
	Caller *auth.Caller

	// From 调用方声明的传输地址
	From string

	// Method 方法名
	Method string

	// Body 去掉认证字段后的消息体
	Body []byte
}

// Handler 方法处理函数，返回不含认证字段的响应消息体
type Handler func(ctx context.Context, req *Request) ([]byte, error)

// Method 方法定义
type Method struct {
	// Name 方法名，全局唯一
	Name string

	// Capability 调用所需的授权能力
	Capability auth.Capability

	// Handler 处理函数
	Handler Handler
}

// Registry 方法注册表
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry 创建方法注册表
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register 注册方法
func (r *Registry) Register(m Method) error {
	if m.Name == "" || m.Handler == nil {
		return ErrInvalidMethod
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[m.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Name)
	}
	r.methods[m.Name] = m
	return nil
}

// Unregister 注销方法
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, name)
}

// Lookup 查找方法
func (r *Registry) Lookup(name string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// Names 返回已注册方法名（有序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
