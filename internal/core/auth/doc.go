// Package auth 实现请求/响应认证信封
//
// # 概述
//
// 每个 RPC 请求携带 RequestAuthInfo：
//   - client_access_token: 调用方自签名的访问令牌（用户名、公钥、过期时间）
//   - service_public_key: 期望的接收方公钥（可选）
//   - time / nonce: 新鲜度与防重放
//   - signature: 覆盖整条请求（签名字段置空）
//
// 响应携带 ResponseAuthInfo，回显请求的 nonce 并由服务方签名。
//
// # 验证顺序
//
//  1. 令牌签名与有效期
//  2. 请求签名
//  3. 接收方公钥
//  4. 时间戳新鲜度窗口
//  5. nonce 重放检查（仅在前面全部通过后记录 nonce）
//
// 任一步失败返回 *Error，调用方不得产生任何副作用。
//
// # 授权
//
// 验证通过后，Authorizer 基于能力（Capability）做二次判定：
// AllowAll、StakeAuthorizer、RateLimitAuthorizer，可用 Chain 组合。
package auth
