package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshdht"

// 方向标签
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// 结果标签
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultDenied  = "denied"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	rpcRequests  *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	rpcBytes     *prometheus.CounterVec
	authRejected *prometheus.CounterVec

	lookups      *prometheus.CounterVec
	lookupRounds prometheus.Histogram

	routingPeers   prometheus.Gauge
	routingBuckets prometheus.Gauge
	records        *prometheus.GaugeVec
}

// New 创建并注册指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC 请求数",
		}, []string{"method", "direction", "result"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC 耗时",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method", "direction"}),
		rpcBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_bytes_total",
			Help:      "RPC 消息字节数",
		}, []string{"direction"}),
		authRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "认证或授权失败的入站请求数",
		}, []string{"reason"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_total",
			Help:      "迭代查找次数",
		}, []string{"kind", "result"}),
		lookupRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_rounds",
			Help:      "单次查找的轮数",
			Buckets:   prometheus.LinearBuckets(1, 1, 20),
		}),
		routingPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_peers",
			Help:      "路由表中的节点数",
		}),
		routingBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_buckets",
			Help:      "路由表桶数",
		}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "本地记录数",
		}, []string{"storage"}),
	}

	m.registry.MustRegister(
		m.rpcRequests, m.rpcDuration, m.rpcBytes, m.authRejected,
		m.lookups, m.lookupRounds,
		m.routingPeers, m.routingBuckets, m.records,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRPC 记录一次 RPC
func (m *Metrics) ObserveRPC(method, direction, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(method, direction, result).Inc()
	m.rpcDuration.WithLabelValues(method, direction).Observe(d.Seconds())
}

// LogSentMessage 记录出站消息大小
func (m *Metrics) LogSentMessage(size int) {
	if m == nil {
		return
	}
	m.rpcBytes.WithLabelValues(DirectionOutbound).Add(float64(size))
}

// LogRecvMessage 记录入站消息大小
func (m *Metrics) LogRecvMessage(size int) {
	if m == nil {
		return
	}
	m.rpcBytes.WithLabelValues(DirectionInbound).Add(float64(size))
}

// AuthRejected 记录一次认证拒绝
func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.authRejected.WithLabelValues(reason).Inc()
}

// ObserveLookup 记录一次查找；kind 为 node 或 value
func (m *Metrics) ObserveLookup(kind, result string, rounds int) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind, result).Inc()
	m.lookupRounds.Observe(float64(rounds))
}

// SetRoutingTable 更新路由表规模
func (m *Metrics) SetRoutingTable(peers, buckets int) {
	if m == nil {
		return
	}
	m.routingPeers.Set(float64(peers))
	m.routingBuckets.Set(float64(buckets))
}

// SetRecords 更新记录数；storage 为 storage 或 cache
func (m *Metrics) SetRecords(storage string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(storage).Set(float64(n))
}
