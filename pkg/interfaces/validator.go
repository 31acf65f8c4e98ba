package interfaces

// Record 待校验或已存储的一条记录
type Record struct {
	// Key 应用层 key 的 NodeID 空间标识
	Key []byte
	// Subkey 字典子键，普通记录为空
	Subkey []byte
	// Value 原始值
	Value []byte
	// ExpirationTime DHT 时间（Unix 秒）
	ExpirationTime float64
}

// IsDictionary 是否为字典子键记录
func (r *Record) IsDictionary() bool {
	return len(r.Subkey) > 0
}

// Validator 记录校验器
//
// 校验链在任何写入之前执行；任一校验器拒绝即拒绝该 key 的写入。
type Validator interface {
	// Validate 校验记录，返回 false 表示拒绝
	Validate(rec *Record) bool

	// SignValue 在本地发起写入前为值附加签名等信息，返回新的值
	SignValue(rec *Record) []byte

	// StripValue 读取时去掉 SignValue 附加的信息
	StripValue(rec *Record) []byte

	// Priority 组合顺序：数值大的先校验、先剥离、最后签名
	Priority() int
}
