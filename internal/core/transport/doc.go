// Package transport 提供 interfaces.Transport 的实现
//
// 传输层只负责"把一帧请求送到地址并取回一帧响应"，身份与签名
// 由上层的认证信封处理。
//
//	quic/    生产用 QUIC 传输：每个请求一条双向流，帧以 varint 长度前缀
//	memory/  进程内传输：测试、仿真与故障注入
//
// Fx 模块按配置提供 QUIC 传输；测试可以用 fx.Decorate 替换为内存传输。
package transport
