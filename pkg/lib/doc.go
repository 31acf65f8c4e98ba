// Package lib 包含基础设施工具库
//
// 本目录包含与架构组件无关的通用工具库：
//
//   - crypto: 密钥、签名与身份文件
//   - log: 日志封装
//   - proto: 网络消息定义
//
// pkg/interfaces 定义组件公共接口，pkg/types 定义公共类型，
// lib 只提供这两者之下的工具。
//
// # 使用示例
//
//	import (
//	    "github.com/dep2p/go-meshdht/pkg/lib/crypto"
//	    "github.com/dep2p/go-meshdht/pkg/lib/log"
//	)
package lib
