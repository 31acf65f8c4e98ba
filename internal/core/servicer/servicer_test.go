package servicer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/transport/memory"
	"github.com/dep2p/go-meshdht/pkg/interfaces/mocks"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
	testmocks "github.com/dep2p/go-meshdht/tests/mocks"
)

func newEnvelope(t *testing.T, clk clock.Clock) *auth.Envelope {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	cfg := auth.DefaultConfig()
	cfg.Clock = clk
	env, err := auth.New(priv, cfg)
	require.NoError(t, err)
	return env
}

func newServicer(t *testing.T, net *memory.Network, clk clock.Clock, opts Options) *Servicer {
	t.Helper()
	s := New(newEnvelope(t, clk), net.NewTransport(""), opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func echoMethod(name string, capability auth.Capability) Method {
	return Method{
		Name:       name,
		Capability: capability,
		Handler: func(_ context.Context, req *Request) ([]byte, error) {
			var in pb.FindRequest
			if err := in.Unmarshal(req.Body); err != nil {
				return nil, err
			}
			return (&pb.FindResponse{Results: []*pb.FindResult{{
				Type:  pb.ResultFoundRegular,
				Value: append([]byte(req.Caller.NodeID.ShortString()+":"), in.Keys[0]...),
			}}}).Marshal(), nil
		},
	}
}

// TestServicer_RoundTrip 测试签名请求经过内存传输往返
func TestServicer_RoundTrip(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	m := metrics.New()
	server := newServicer(t, net, clk, Options{Metrics: m})
	client := newServicer(t, net, clk, Options{})

	require.NoError(t, server.Register(echoMethod("echo", auth.CapabilityDHT)))

	body := (&pb.FindRequest{Keys: [][]byte{[]byte("k1")}}).Marshal()
	resp, err := client.Invoke(context.Background(), server.LocalAddr(), "echo", body,
		WithExpectPeer(server.NodeID()), WithServiceKey(server.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, server.NodeID(), resp.Peer.NodeID)

	var out pb.FindResponse
	require.NoError(t, out.Unmarshal(resp.Body))
	require.Len(t, out.Results, 1)
	assert.Equal(t, client.NodeID().ShortString()+":k1", string(out.Results[0].Value))
	t.Log("✅ 请求往返成功")
}

// TestServicer_DuplicateMethod 测试重复注册被拒绝
func TestServicer_DuplicateMethod(t *testing.T) {
	s := newServicer(t, memory.NewNetwork(), clock.NewMock(), Options{})

	require.NoError(t, s.Register(echoMethod("echo", auth.CapabilityNone)))
	err := s.Register(echoMethod("echo", auth.CapabilityNone))
	assert.ErrorIs(t, err, ErrDuplicateMethod)

	assert.ErrorIs(t, s.Register(Method{Name: "nil"}), ErrInvalidMethod)
	assert.Equal(t, []string{"echo"}, s.Methods())
	t.Log("✅ 重复注册被拒绝")
}

// TestServicer_UnknownMethod 测试调用未注册方法
func TestServicer_UnknownMethod(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})
	client := newServicer(t, net, clk, Options{})

	_, err := client.Invoke(context.Background(), server.LocalAddr(), "missing", nil)
	require.Error(t, err)
	assert.True(t, IsRemote(err))
	assert.Contains(t, err.Error(), "unknown method")
	t.Log("✅ 未注册方法返回远端错误")
}

// TestServicer_ReplayRejected 测试重放请求被拒绝
func TestServicer_ReplayRejected(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})
	require.NoError(t, server.Register(echoMethod("echo", auth.CapabilityNone)))

	clientEnv := newEnvelope(t, clk)
	tr := net.NewTransport("")
	require.NoError(t, tr.Start(context.Background()))

	body := (&pb.FindRequest{Keys: [][]byte{[]byte("k")}}).Marshal()
	msg, nonce, err := clientEnv.SignRequest(body, nil)
	require.NoError(t, err)

	ctx := context.Background()
	raw, err := tr.Call(ctx, server.LocalAddr(), "echo", msg)
	require.NoError(t, err)
	_, err = clientEnv.VerifyResponse(raw, nonce, types.NodeID{})
	require.NoError(t, err)

	_, err = tr.Call(ctx, server.LocalAddr(), "echo", msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), auth.ReasonReplayedNonce.String())
	t.Log("✅ 重放请求被拒绝")
}

// TestServicer_CapabilityDenied 测试能力校验失败
func TestServicer_CapabilityDenied(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	verifier := &testmocks.MockStakeVerifier{
		IsStakedFunc: func(context.Context, []byte) (bool, error) { return false, nil },
	}
	server := newServicer(t, net, clk, Options{
		Authorizer: auth.NewStakeAuthorizer(verifier, 16, time.Minute),
	})
	client := newServicer(t, net, clk, Options{})

	require.NoError(t, server.Register(echoMethod("open", auth.CapabilityDHT)))
	require.NoError(t, server.Register(echoMethod("staked", auth.CapabilityStaked)))

	body := (&pb.FindRequest{Keys: [][]byte{[]byte("k")}}).Marshal()
	_, err := client.Invoke(context.Background(), server.LocalAddr(), "open", body)
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), server.LocalAddr(), "staked", body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), auth.ReasonUnauthorized.String())
	t.Log("✅ 未质押调用方被拒绝")
}

// TestServicer_UnexpectedPeer 测试响应方身份不符
func TestServicer_UnexpectedPeer(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})
	client := newServicer(t, net, clk, Options{})
	require.NoError(t, server.Register(echoMethod("echo", auth.CapabilityNone)))

	body := (&pb.FindRequest{Keys: [][]byte{[]byte("k")}}).Marshal()
	_, err := client.Invoke(context.Background(), server.LocalAddr(), "echo", body,
		WithExpectPeer(types.RandomNodeID()))
	assert.ErrorIs(t, err, auth.ErrUnexpectedPeer)
	t.Log("✅ 响应方身份校验生效")
}

// TestServicer_AppCall 测试应用方法与压缩载荷
func TestServicer_AppCall(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})
	client := newServicer(t, net, clk, Options{})

	var seen *auth.Caller
	require.NoError(t, server.RegisterApp("app.upper", auth.CapabilityNone,
		func(_ context.Context, caller *auth.Caller, payload []byte) ([]byte, error) {
			seen = caller
			return []byte(strings.ToUpper(string(payload))), nil
		}))

	ctx := context.Background()
	out, err := client.Call(ctx, server.LocalAddr(), "app.upper", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(out))
	assert.Equal(t, client.NodeID(), seen.NodeID)

	big := strings.Repeat("mesh", 4096)
	out, err = client.Call(ctx, server.LocalAddr(), "app.upper", []byte(big), WithCompression())
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(big), string(out))
	t.Log("✅ 应用方法调用成功")
}

// TestServicer_HandlerPanic 测试处理函数崩溃被恢复
func TestServicer_HandlerPanic(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})
	client := newServicer(t, net, clk, Options{})

	require.NoError(t, server.Register(Method{
		Name: "boom",
		Handler: func(context.Context, *Request) ([]byte, error) {
			panic("boom")
		},
	}))

	_, err := client.Invoke(context.Background(), server.LocalAddr(), "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
	t.Log("✅ 处理函数崩溃被恢复")
}

// TestServicer_TransportError 测试传输错误透传
func TestServicer_TransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	errDown := errors.New("link down")

	tr.EXPECT().SetHandler(gomock.Any())
	tr.EXPECT().Call(gomock.Any(), "peer:1", "echo", gomock.Any()).Return(nil, errDown)

	s := New(newEnvelope(t, clock.NewMock()), tr, Options{RPCTimeout: time.Second})
	_, err := s.Invoke(context.Background(), "peer:1", "echo", nil)
	assert.ErrorIs(t, err, errDown)
	t.Log("✅ 传输错误透传")
}

// TestServicer_ResponderDenied 测试未质押的响应方被调用方拒绝
func TestServicer_ResponderDenied(t *testing.T) {
	net := memory.NewNetwork()
	clk := clock.NewMock()
	server := newServicer(t, net, clk, Options{})

	staked := string(server.PublicKey())
	verifier := &testmocks.MockStakeVerifier{
		IsStakedFunc: func(context.Context, []byte) (bool, error) { return false, nil },
	}
	client := newServicer(t, net, clk, Options{
		PeerAuthorizer: auth.NewStakeAuthorizer(verifier, 16, time.Minute, auth.CapabilityDHT),
	})

	require.NoError(t, server.Register(echoMethod("echo", auth.CapabilityDHT)))
	// 调用方本地注册同名方法，响应方能力取自本地注册表
	require.NoError(t, client.Register(echoMethod("echo", auth.CapabilityDHT)))

	body := (&pb.FindRequest{Keys: [][]byte{[]byte("k")}}).Marshal()
	ctx := context.Background()
	_, err := client.Invoke(ctx, server.LocalAddr(), "echo", body)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	// 显式放宽响应方能力
	_, err = client.Invoke(ctx, server.LocalAddr(), "echo", body, WithPeerCapability(auth.CapabilityNone))
	require.NoError(t, err)

	// 质押后响应通过
	verifier.IsStakedFunc = func(_ context.Context, pk []byte) (bool, error) {
		return string(pk) == staked, nil
	}
	other := newServicer(t, net, clk, Options{
		PeerAuthorizer: auth.NewStakeAuthorizer(verifier, 16, time.Minute, auth.CapabilityDHT),
	})
	require.NoError(t, other.Register(echoMethod("echo", auth.CapabilityDHT)))
	_, err = other.Invoke(ctx, server.LocalAddr(), "echo", body)
	require.NoError(t, err)
	t.Log("✅ 响应方质押校验生效")
}
