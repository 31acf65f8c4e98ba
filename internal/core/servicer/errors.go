package servicer

import (
	"errors"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

var (
	// ErrDuplicateMethod 方法已注册
	ErrDuplicateMethod = errors.New("servicer: method already registered")

	// ErrUnknownMethod 方法未注册
	ErrUnknownMethod = errors.New("servicer: unknown method")

	// ErrInvalidMethod 方法定义无效
	ErrInvalidMethod = errors.New("servicer: invalid method")

	// ErrMalformedMessage 消息无法解码
	ErrMalformedMessage = pb.ErrMalformed

	// ErrHandlerPanic 处理函数崩溃
	ErrHandlerPanic = errors.New("servicer: handler panic")
)

// RemoteError 远端返回的错误
type RemoteError = interfaces.RemoteError

// IsRemote 判断错误是否来自远端处理
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
