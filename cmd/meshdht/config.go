package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-meshdht/config"
)

// ============================================================================
//                              环境变量覆盖
// ============================================================================

// 环境变量名（均使用 MESHDHT_ 前缀）
const (
	envPrefix          = "MESHDHT_"
	envListenAddr      = "LISTEN_ADDR"
	envAdvertiseAddr   = "ADVERTISE_ADDR"
	envIdentityKeyFile = "IDENTITY_KEY_FILE"
	envIdentityPass    = "IDENTITY_PASSWORD"
	envBootstrapPeers  = "BOOTSTRAP_PEERS"
	envDataDir         = "DATA_DIR"
	envEnableMetrics   = "ENABLE_METRICS"
	envLogLevel        = "LOG_LEVEL"
	envBucketSize      = "BUCKET_SIZE"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + envListenAddr); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + envAdvertiseAddr); v != "" {
		cfg.Transport.AdvertiseAddr = v
	}
	if v := os.Getenv(envPrefix + envIdentityKeyFile); v != "" {
		cfg.Identity.KeyFile = v
	}
	if v := os.Getenv(envPrefix + envIdentityPass); v != "" {
		cfg.Identity.Password = v
	}
	if v := os.Getenv(envPrefix + envBootstrapPeers); v != "" {
		cfg.DHT.BootstrapPeers = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envPrefix + envEnableMetrics); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + envBucketSize); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.DHT.BucketSize = k
		}
	}
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
