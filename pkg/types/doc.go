// Package types 定义 meshdht 的公共数据结构
//
// # 文件组织
//
//   - ids.go      - NodeID 及其派生（公钥 / 应用 key → blake3-256）
//   - distance.go - XOR 距离、全序比较、共同前缀长度
//   - contact.go  - 路由表联系人、DHT 时间换算
//
// # 距离模型
//
// 所有邻近性比较都基于 XOR 距离。距离相同时按原始 ID 字节序打破平局，
// 使查找结果在相同网络状态下可复现。
package types
