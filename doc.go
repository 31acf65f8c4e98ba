// Package meshdht 提供带认证的 Kademlia DHT 节点
//
// 每个节点由 Ed25519 身份标识，NodeID 为公钥的 256 位哈希。
// 节点之间的所有 RPC（ping、store、find 以及应用方法）都经过签名信封认证，
// 记录存储支持普通值与字典值、过期时间、软缓存与校验链。
//
// # 快速开始
//
//	node, err := meshdht.Start(ctx,
//	    meshdht.WithListenAddr("0.0.0.0:4100"),
//	    meshdht.WithBootstrapPeers("10.0.0.1:4100"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	ok, err := node.Store(ctx, []byte("key"), nil, []byte("value"), time.Hour)
//	v, err := node.Get(ctx, []byte("key"))
//
// # 组件结构
//
//	┌──────────────────────────────────────────────┐
//	│  Node        meshdht.New() / meshdht.Start() │
//	├──────────────────────────────────────────────┤
//	│  DHT         路由表 · 记录存储 · 迭代查找    │
//	├──────────────────────────────────────────────┤
//	│  Servicer    方法分发 · 授权 · 压缩          │
//	├──────────────────────────────────────────────┤
//	│  Auth        签名信封 · 访问令牌 · 防重放    │
//	├──────────────────────────────────────────────┤
//	│  Transport   QUIC（生产）/ 内存（测试）      │
//	└──────────────────────────────────────────────┘
//
// 组件通过 go.uber.org/fx 装配，见 fx.go。
package meshdht
