// Package main 提供 meshdht 命令行入口
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dep2p/go-meshdht"
	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("meshdht/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置 / 长期运行
//
// 优先级：命令行 > 环境变量（MESHDHT_*）> 配置文件 > 默认值
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile   = flag.String("config", "", "配置文件路径（JSON）")
	listenAddr   = flag.String("listen", "", "QUIC 监听地址，如 0.0.0.0:4100")
	advertise    = flag.String("advertise", "", "对外公布地址")
	bootstrap    = flag.String("bootstrap", "", "引导节点地址（逗号分隔）")
	identityFile = flag.String("identity", "", "身份文件路径（不存在时生成）")
	password     = flag.String("password", "", "身份文件口令")
	dataDir      = flag.String("data-dir", "", "数据目录（为空时仅内存存储）")
	metricsAddr  = flag.String("metrics", "", "启用 Prometheus 指标并监听该地址")

	logLevel  = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	logFormat = flag.String("log-format", "", "日志格式 (text/json)")
	logFile   = flag.String("log", "", "日志文件路径")

	statusInterval = flag.Duration("status", 0, "状态输出间隔（0 = 关闭）")
	putRecord      = flag.String("put", "", "写入 key=value 后退出")
	getRecord      = flag.String("get", "", "读取 key 后退出")
	ttl            = flag.Duration("ttl", time.Hour, "-put 写入的有效期")

	dumpConfig  = flag.Bool("dump-config", false, "输出合并后的配置并退出")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(meshdht.VersionInfo())
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	if *dumpConfig {
		return printConfig(cfg)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("启动 meshdht 节点", "version", meshdht.Version, "commit", meshdht.GitCommit)
	node, err := meshdht.Start(ctx, meshdht.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("关闭节点失败", "error", err)
		}
	}()

	printNodeInfo(node)

	switch {
	case *putRecord != "":
		return runPut(ctx, node, *putRecord)
	case *getRecord != "":
		return runGet(ctx, node, *getRecord)
	}

	if *statusInterval > 0 {
		go reportStatus(ctx, node, *statusInterval)
	}

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	<-ctx.Done()
	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildConfig 合并配置文件、环境变量与命令行参数
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}
	if *advertise != "" {
		cfg.Transport.AdvertiseAddr = *advertise
	}
	if *bootstrap != "" {
		cfg.DHT.BootstrapPeers = splitAndTrim(*bootstrap, ",")
	}
	if *identityFile != "" {
		cfg.Identity.KeyFile = *identityFile
	}
	if *password != "" {
		cfg.Identity.Password = *password
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printConfig(cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}

// setupLogging 按配置初始化日志，返回关闭日志文件的函数
func setupLogging(c config.LogConfig) (func(), error) {
	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0750); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	if err := log.Setup(log.Options{Level: c.Level, Format: log.Format(c.Format), Output: out}); err != nil {
		closeFn()
		return nil, err
	}
	return closeFn, nil
}

func runPut(ctx context.Context, node *meshdht.Node, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return errors.New("-put 格式应为 key=value")
	}
	stored, err := node.Store(ctx, []byte(key), nil, []byte(value), *ttl)
	if err != nil {
		return err
	}
	if !stored {
		return fmt.Errorf("没有节点接受写入: %s", key)
	}
	fmt.Printf("已写入 %s（有效期 %s）\n", key, *ttl)
	return nil
}

func runGet(ctx context.Context, node *meshdht.Node, key string) error {
	v, err := node.Get(ctx, []byte(key))
	if err != nil {
		return err
	}
	exp := types.FromDHTTime(v.ExpirationTime)
	if !v.IsDictionary() {
		fmt.Printf("%s = %s（过期于 %s）\n", key, v.Regular, exp.Format(time.RFC3339))
		return nil
	}
	fmt.Printf("%s（字典，%d 个子键，过期于 %s）\n", key, v.Dictionary.Len(), exp.Format(time.RFC3339))
	for _, sk := range v.Dictionary.Subkeys() {
		e, _ := v.Dictionary.Get(sk)
		fmt.Printf("  %s = %s\n", sk, e.Value)
	}
	return nil
}

// reportStatus 定期输出状态
func reportStatus(ctx context.Context, node *meshdht.Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := node.Status()
			fmt.Printf("[%s] peers=%d buckets=%d stored=%d cached=%d\n",
				time.Now().Format("15:04:05"), st.Peers, st.Buckets, st.StoredRecords, st.CachedRecords)
		}
	}
}

// printNodeInfo 打印节点信息
func printNodeInfo(node *meshdht.Node) {
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-70s║\n", meshdht.VersionInfo())
	fmt.Println("╠════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Node ID: %-61s║\n", node.ID().String())
	fmt.Printf("║  Address: %-61s║\n", node.Addr())
	fmt.Printf("║  Peers:   %-61d║\n", node.Status().Peers)
	fmt.Println("╚════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
