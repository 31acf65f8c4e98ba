// Package quic 提供基于 QUIC 的请求/响应传输
//
// 每个请求打开一条新的双向流：
//
//	请求方  → varint(len) | Frame{method, from, body}   然后关闭写方向
//	响应方  → varint(len) | Frame{body | error}          然后关闭流
//
// 出站连接按地址复用；连接失效时在下一次调用重新拨号。
// 监听与拨号共享同一个 UDP socket。
package quic
