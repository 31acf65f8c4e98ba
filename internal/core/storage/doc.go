// Package storage 提供基于 BadgerDB 的键值存储服务
//
//	┌──────────────────────────────┐
//	│   discovery/dht 记录存储      │
//	└──────────────┬───────────────┘
//	               ▼
//	┌──────────────────────────────┐
//	│ kv.Store  带前缀隔离的 KV 抽象 │
//	├──────────────────────────────┤
//	│ engine/badger  BadgerDB 实现  │
//	└──────────────────────────────┘
//
// 未配置数据目录时以内存模式运行，记录随进程退出丢失；
// 配置 storage.data_dir 后记录写入磁盘，重启时重新载入。
//
// 使用 Fx：
//
//	app := fx.New(
//	    fx.Supply(cfg),
//	    storage.Module(),
//	)
package storage
