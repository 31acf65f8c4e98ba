// Package interfaces 定义 meshdht 核心消费的外部能力
//
//   - transport.go - 传输能力：send(addr, message) -> response | timeout
//   - validator.go - 记录校验链
//   - stake.go     - 质押/注册校验（外部链客户端）
//   - storage.go   - 持久化存储引擎
//
// 实现位于 internal/，测试替身位于 mocks 子包。
package interfaces
