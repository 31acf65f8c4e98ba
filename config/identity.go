package config

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile 身份文件路径，为空时每次启动生成临时身份
	KeyFile string `json:"key_file,omitempty"`

	// Password 身份文件口令，为空表示明文保存
	Password string `json:"password,omitempty"`

	// Username 写入访问令牌的用户名
	Username string `json:"username,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c *IdentityConfig) Validate() error {
	return nil
}
