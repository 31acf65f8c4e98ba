package servicer

import (
	"context"
	"fmt"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

// AppHandler 应用方法处理函数，收发不透明载荷
type AppHandler func(ctx context.Context, caller *auth.Caller, payload []byte) ([]byte, error)

// RegisterApp 注册应用方法
//
// 请求压缩时响应同样压缩。
func (s *Servicer) RegisterApp(name string, capability auth.Capability, h AppHandler) error {
	if h == nil {
		return ErrInvalidMethod
	}
	return s.Register(Method{
		Name:       name,
		Capability: capability,
		Handler: func(ctx context.Context, req *Request) ([]byte, error) {
			var in pb.ServicerRequest
			if err := in.Unmarshal(req.Body); err != nil {
				return nil, err
			}
			payload := in.Payload
			if in.Compressed {
				var err error
				if payload, err = decompress(payload); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
				}
			}

			out, err := h(ctx, req.Caller, payload)
			if err != nil {
				return nil, err
			}

			resp := pb.ServicerResponse{Payload: out, Compressed: in.Compressed}
			if in.Compressed {
				if resp.Payload, err = compress(out); err != nil {
					return nil, err
				}
			}
			return resp.Marshal(), nil
		},
	})
}

// Call 调用远端应用方法
func (s *Servicer) Call(ctx context.Context, addr, method string, payload []byte, opts ...CallOption) ([]byte, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	req := pb.ServicerRequest{Payload: payload, Compressed: o.compress}
	if o.compress {
		var err error
		if req.Payload, err = compress(payload); err != nil {
			return nil, err
		}
	}

	resp, err := s.Invoke(ctx, addr, method, req.Marshal(), opts...)
	if err != nil {
		return nil, err
	}

	var out pb.ServicerResponse
	if err := out.Unmarshal(resp.Body); err != nil {
		return nil, err
	}
	if out.Compressed {
		return decompress(out.Payload)
	}
	return out.Payload, nil
}
