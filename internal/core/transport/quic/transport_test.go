package quic

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/internal/core/transport"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

func startTransport(t *testing.T, h interfaces.Handler) *Transport {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)

	tr, err := New(priv, DefaultConfig())
	require.NoError(t, err)
	tr.SetHandler(h)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// TestTransport_Loopback 测试本机两个 QUIC 传输之间的请求响应
func TestTransport_Loopback(t *testing.T) {
	server := startTransport(t, func(_ context.Context, from, method string, body []byte) ([]byte, error) {
		if method == "fail" {
			return nil, errors.New("handler failed")
		}
		return append([]byte(method+"|"+from+"|"), body...), nil
	})
	client := startTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, server.LocalAddr(), "echo", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "echo|"+client.LocalAddr()+"|payload", string(resp))

	// 复用连接发起第二个请求
	resp, err = client.Call(ctx, server.LocalAddr(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo|"+client.LocalAddr()+"|", string(resp))

	_, err = client.Call(ctx, server.LocalAddr(), "fail", nil)
	var re *interfaces.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "handler failed", re.Message)
	t.Log("✅ QUIC 回环请求成功")
}

// TestTransport_Closed 测试关闭后调用
func TestTransport_Closed(t *testing.T) {
	tr := startTransport(t, nil)
	require.NoError(t, tr.Close())
	_, err := tr.Call(context.Background(), "127.0.0.1:1", "x", nil)
	assert.ErrorIs(t, err, transport.ErrTransportClosed)
}

// TestFrame_RoundTrip 测试帧编解码与大小限制
func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := writeFrame(&buf, &pb.Frame{Method: "dht.ping", From: "1.2.3.4:5", Body: []byte{1, 2, 3}})
	require.NoError(t, err)
	raw := append([]byte(nil), buf.Bytes()...)

	f, n, err := readFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, "dht.ping", f.Method)
	assert.Equal(t, []byte{1, 2, 3}, f.Body)
	assert.Equal(t, len(raw)-1, n)

	_, _, err = readFrame(bytes.NewReader(raw), 4)
	assert.ErrorIs(t, err, transport.ErrMessageTooLarge)
}
