package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_NilSafe 测试 nil 指标集合可直接调用
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("dht.ping", DirectionOutbound, ResultOK, time.Millisecond)
		m.LogSentMessage(10)
		m.AuthRejected("bad signature")
		m.ObserveLookup("node", ResultOK, 3)
		m.SetRoutingTable(1, 1)
		m.SetRecords("cache", 1)
	})
	assert.Nil(t, m.Registry())
}

// TestMetrics_Counters 测试计数器与仪表
func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRPC("dht.find", DirectionInbound, ResultOK, 2*time.Millisecond)
	m.ObserveRPC("dht.find", DirectionInbound, ResultOK, 3*time.Millisecond)
	m.ObserveRPC("dht.find", DirectionInbound, ResultDenied, time.Millisecond)
	m.LogSentMessage(100)
	m.LogRecvMessage(40)
	m.AuthRejected("replayed nonce")
	m.SetRoutingTable(42, 3)
	m.SetRecords("storage", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("dht.find", DirectionInbound, ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcRequests.WithLabelValues("dht.find", DirectionInbound, ResultDenied)))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.rpcBytes.WithLabelValues(DirectionOutbound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authRejected.WithLabelValues("replayed nonce")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.routingPeers))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.records.WithLabelValues("storage")))
	t.Log("✅ 指标计数正确")
}

// TestServer_Scrape 测试 /metrics 输出
func TestServer_Scrape(t *testing.T) {
	m := New()
	m.ObserveLookup("value", ResultOK, 2)

	srv := NewServer(m, "127.0.0.1:0")
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `meshdht_lookup_total{kind="value",result="ok"} 1`))
	t.Log("✅ 指标可抓取")
}
