package meshdht

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// DefaultStartTimeout 节点启动超时（包含引导重试）
const DefaultStartTimeout = time.Minute

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 基础配置，后续选项在其上覆盖
	config *config.Config

	// 身份配置
	privateKey crypto.PrivateKey

	// 注入的组件，为 nil 时由 fx 模块按配置创建
	transport     interfaces.Transport
	clock         clock.Clock
	stakeVerifier interfaces.StakeVerifier
	validators    []interfaces.Validator

	// 启动超时
	startTimeout time.Duration

	// 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		config:       config.NewConfig(),
		startTimeout: DefaultStartTimeout,
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置作为基础
//
// 应放在其他选项之前，否则会覆盖之前的修改。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		o.config = cfg
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              常用覆盖
// ════════════════════════════════════════════════════════════════════════════

// WithListenAddr 设置 QUIC 监听地址（host:port）
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return errors.New("listen address is empty")
		}
		o.config.Transport.ListenAddr = addr
		return nil
	}
}

// WithAdvertiseAddr 设置对外公布地址
func WithAdvertiseAddr(addr string) Option {
	return func(o *options) error {
		o.config.Transport.AdvertiseAddr = addr
		return nil
	}
}

// WithBootstrapPeers 设置引导节点地址
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.config.DHT.BootstrapPeers = append([]string(nil), addrs...)
		return nil
	}
}

// WithIdentityFile 从文件加载身份，文件不存在时生成并保存
func WithIdentityFile(path, password string) Option {
	return func(o *options) error {
		o.config.Identity.KeyFile = path
		o.config.Identity.Password = password
		return nil
	}
}

// WithPrivateKey 直接使用给定私钥，优先于身份文件
func WithPrivateKey(key crypto.PrivateKey) Option {
	return func(o *options) error {
		if key == nil {
			return crypto.ErrNilPrivateKey
		}
		o.privateKey = key
		return nil
	}
}

// WithDataDir 设置数据目录，启用记录持久化
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.config.Storage.DataDir = dir
		return nil
	}
}

// WithMetrics 启用 Prometheus 指标并在 addr 暴露 /metrics
func WithMetrics(addr string) Option {
	return func(o *options) error {
		o.config.Metrics.Enabled = true
		if addr != "" {
			o.config.Metrics.ListenAddr = addr
		}
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件注入
// ════════════════════════════════════════════════════════════════════════════

// WithTransport 使用给定传输替代 QUIC（测试时注入内存传输）
func WithTransport(tr interfaces.Transport) Option {
	return func(o *options) error {
		o.transport = tr
		return nil
	}
}

// WithClock 注入时钟
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithValidators 追加记录校验器
func WithValidators(vs ...interfaces.Validator) Option {
	return func(o *options) error {
		o.validators = append(o.validators, vs...)
		return nil
	}
}

// WithStakeVerifier 设置质押校验客户端，用于 CapabilityStaked 方法
func WithStakeVerifier(v interfaces.StakeVerifier) Option {
	return func(o *options) error {
		o.stakeVerifier = v
		return nil
	}
}

// WithStartTimeout 设置启动超时
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("start timeout must be positive")
		}
		o.startTimeout = d
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
