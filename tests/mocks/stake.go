package mocks

import (
	"context"
	"sync"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
)

// MockStakeVerifier 模拟 StakeVerifier 接口实现
type MockStakeVerifier struct {
	// IsStakedFunc 可覆盖的方法，默认全部通过
	IsStakedFunc func(ctx context.Context, publicKey []byte) (bool, error)

	mu    sync.Mutex
	Calls int
}

// IsStaked 校验质押
func (m *MockStakeVerifier) IsStaked(ctx context.Context, publicKey []byte) (bool, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	if m.IsStakedFunc != nil {
		return m.IsStakedFunc(ctx, publicKey)
	}
	return true, nil
}

// CallCount 返回调用次数
func (m *MockStakeVerifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ interfaces.StakeVerifier = (*MockStakeVerifier)(nil)
