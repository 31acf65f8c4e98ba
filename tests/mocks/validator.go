package mocks

import (
	"sync"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// MockValidator 模拟 Validator 接口实现
type MockValidator struct {
	// 可覆盖的方法
	ValidateFunc   func(rec *interfaces.Record) bool
	SignValueFunc  func(rec *interfaces.Record) []byte
	StripValueFunc func(rec *interfaces.Record) []byte
	PriorityValue  int

	mu            sync.Mutex
	ValidateCalls []interfaces.Record
}

// Validate 校验记录，默认接受
func (m *MockValidator) Validate(rec *interfaces.Record) bool {
	m.mu.Lock()
	m.ValidateCalls = append(m.ValidateCalls, *rec)
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(rec)
	}
	return true
}

// SignValue 默认原样返回
func (m *MockValidator) SignValue(rec *interfaces.Record) []byte {
	if m.SignValueFunc != nil {
		return m.SignValueFunc(rec)
	}
	return rec.Value
}

// StripValue 默认原样返回
func (m *MockValidator) StripValue(rec *interfaces.Record) []byte {
	if m.StripValueFunc != nil {
		return m.StripValueFunc(rec)
	}
	return rec.Value
}

// Priority 返回优先级
func (m *MockValidator) Priority() int {
	return m.PriorityValue
}

// ValidateCount 返回 Validate 调用次数
func (m *MockValidator) ValidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ValidateCalls)
}

var _ interfaces.Validator = (*MockValidator)(nil)
