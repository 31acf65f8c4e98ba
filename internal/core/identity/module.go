package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshdht/config"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`

	// PrivateKey 直接注入的私钥，优先于配置
	PrivateKey crypto.PrivateKey `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Identity   *Identity
	PrivateKey crypto.PrivateKey `name:"node_key"`
}

// ProvideIdentity 提供本节点身份
func ProvideIdentity(input ModuleInput) (ModuleOutput, error) {
	var (
		id  *Identity
		err error
	)
	switch {
	case input.PrivateKey != nil:
		id, err = NewIdentity(input.PrivateKey)
	case input.UnifiedCfg != nil && input.UnifiedCfg.Identity.KeyFile != "":
		id, err = Load(input.UnifiedCfg.Identity.KeyFile, input.UnifiedCfg.Identity.Password)
	default:
		id, err = Generate()
		if err == nil {
			logger.Info("未配置身份文件，使用临时身份", "nodeID", id.ID().ShortString())
		}
	}
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{Identity: id, PrivateKey: id.PrivateKey()}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
