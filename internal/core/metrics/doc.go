// Package metrics 提供 meshdht 的 Prometheus 指标
//
// 覆盖四类数据：
//
//	RPC       meshdht_rpc_requests_total{method,direction,result}
//	          meshdht_rpc_duration_seconds{method,direction}
//	          meshdht_rpc_bytes_total{direction}
//	认证      meshdht_auth_rejected_total{reason}
//	查找      meshdht_lookup_total{kind,result}、meshdht_lookup_rounds
//	状态      meshdht_routing_peers、meshdht_routing_buckets、meshdht_records{storage}
//
// 所有方法对 nil *Metrics 安全，未启用指标时组件直接持有 nil。
package metrics
