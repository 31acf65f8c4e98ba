// Package servicer 提供带认证的 RPC 方法注册与分发
//
// 每个方法声明所需的授权能力。入站请求依次经过：
//
//	查找方法 → 验证请求信封 → 授权检查 → 处理函数 → 签名响应
//
// 任何一步失败都不会调用处理函数，也不会产生副作用。
//
// DHT 方法使用 Register 直接处理消息体；应用方法使用 RegisterApp，
// 载荷封装在 ServicerRequest/ServicerResponse 中，可选 zstd 压缩。
//
// 客户端侧：
//
//	resp, err := s.Invoke(ctx, addr, "dht.find", body, servicer.WithExpectPeer(id))
//	out, err := s.Call(ctx, addr, "app.infer", payload, servicer.WithCompression())
package servicer
