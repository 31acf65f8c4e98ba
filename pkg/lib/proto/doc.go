// Package proto 定义 meshdht 的网络协议消息（wire format）
//
// # 子包
//
//   - dht: DHT RPC（ping/store/find）、认证信封、Servicer 载荷与传输帧
//
// 消息采用 protobuf 线格式，字段编号是兼容性契约，禁止重新编号。
// 编解码直接基于 google.golang.org/protobuf/encoding/protowire 手写，
// .proto 文件作为字段编号的权威文档随包保存。
//
// pkg/proto 定义网络协议消息，pkg/types 定义 Go 内部数据结构。
package proto
