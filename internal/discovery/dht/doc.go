// Package dht 实现 Kademlia DHT 节点
//
// # 模块概述
//
// dht 提供去中心化的节点发现、路由与带版本的键值存储，
// 是应用层 RPC（经 servicer 注册）的承载基础。
//
// # 核心组件
//
// 1. 路由表 RoutingTable
//   - 按到本节点的共同前缀长度分桶，K=20
//   - 仅包含本节点的桶可以分裂，其余桶满后进入替换缓存
//   - 驱逐前先 ping 最久未见的节点（ping-before-evict）
//
// 2. 记录存储 RecordStore
//   - 普通记录与字典记录（子键独立过期）
//   - 仅当新的过期时间严格更大时才替换
//   - storage（正常存储）与 cache（软缓存，可提前逐出）
//   - 可选 BadgerDB 持久化
//
// 3. 协议层 Protocol
//   - dht.ping / dht.store / dht.find，全部经过认证信封
//   - 每次成功交互后刷新双方路由表
//
// 4. 迭代查找 lookup
//   - 每轮最多 Alpha 个并发 find
//   - 无更近节点或达到 MaxRounds 时结束
//
// 5. 协调器 DHT
//   - Get / Store / Bootstrap / FindNode / CallPeer
//   - 后台循环：桶刷新、过期清理、缓存压力逐出、状态报告
//
// # 使用示例
//
//	d, err := dht.New(svc, dht.WithBucketSize(20), dht.WithAlpha(3))
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop(ctx)
//
//	if err := d.Bootstrap(ctx, "10.0.0.1:4100"); err != nil {
//	    return err
//	}
//	ok, err := d.Store(ctx, []byte("key"), nil, []byte("value"), time.Minute)
//	v, err := d.Get(ctx, []byte("key"))
//
// # 并发模型
//
// 路由表与记录存储各持有一把锁，锁内不做任何网络 I/O。
// ping-before-evict、缓存回写等网络操作都在锁外的 goroutine 中完成。
package dht
