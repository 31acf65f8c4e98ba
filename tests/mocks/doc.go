// Package mocks 提供统一的测试 Mock 实现
//
// # 核心 Mock
//
//   - MockValidator: 模拟 interfaces.Validator，支持按记录决定接受/拒绝
//   - MockStakeVerifier: 模拟 interfaces.StakeVerifier
//
// Transport 的 gomock 替身位于 pkg/interfaces/mocks。
//
// # 设计原则
//
// 1. 函数式注入: 每个 Mock 都支持通过 XxxFunc 字段注入自定义行为
// 2. 调用记录: 记录调用历史，便于验证测试行为
//
// # 使用示例
//
//	v := &mocks.MockValidator{
//	    ValidateFunc: func(rec *interfaces.Record) bool {
//	        return string(rec.Value) != "bad"
//	    },
//	}
package mocks
