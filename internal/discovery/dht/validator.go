package dht

import (
	"bytes"
	"math"
	"regexp"
	"sort"

	"github.com/mr-tron/base58"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
)

// ============================================================================
//                              组合校验器
// ============================================================================

// CompositeValidator 按优先级组合多个校验器
//
// 校验时按优先级从高到低执行，每通过一个就剥离它附加的内容再交给下一个；
// 签名时顺序相反。
type CompositeValidator struct {
	validators []interfaces.Validator
}

var _ interfaces.Validator = (*CompositeValidator)(nil)

// NewCompositeValidator 创建组合校验器
func NewCompositeValidator(vs ...interfaces.Validator) *CompositeValidator {
	c := &CompositeValidator{}
	c.Extend(vs...)
	return c
}

// Extend 追加校验器；已存在同一实例时跳过
func (c *CompositeValidator) Extend(vs ...interfaces.Validator) {
	for _, v := range vs {
		if v == nil || c.contains(v) {
			continue
		}
		c.validators = append(c.validators, v)
	}
	sort.SliceStable(c.validators, func(i, j int) bool {
		return c.validators[i].Priority() > c.validators[j].Priority()
	})
}

func (c *CompositeValidator) contains(v interfaces.Validator) bool {
	for _, x := range c.validators {
		if x == v {
			return true
		}
	}
	return false
}

// Len 校验器数量
func (c *CompositeValidator) Len() int {
	return len(c.validators)
}

// Validate 全部通过才接受
func (c *CompositeValidator) Validate(rec *interfaces.Record) bool {
	cur := *rec
	for i, v := range c.validators {
		if !v.Validate(&cur) {
			return false
		}
		if i < len(c.validators)-1 {
			cur.Value = v.StripValue(&cur)
		}
	}
	return true
}

// SignValue 按优先级从低到高依次附加
func (c *CompositeValidator) SignValue(rec *interfaces.Record) []byte {
	cur := *rec
	for i := len(c.validators) - 1; i >= 0; i-- {
		cur.Value = c.validators[i].SignValue(&cur)
	}
	return cur.Value
}

// StripValue 按优先级从高到低依次剥离
func (c *CompositeValidator) StripValue(rec *interfaces.Record) []byte {
	cur := *rec
	for _, v := range c.validators {
		cur.Value = v.StripValue(&cur)
	}
	return cur.Value
}

// Priority 组合校验器本身不参与排序
func (c *CompositeValidator) Priority() int {
	return 0
}

// ============================================================================
//                              签名校验器
// ============================================================================

var (
	ownerPattern     = regexp.MustCompile(`\[owner:([1-9A-HJ-NP-Za-km-z]+)\]`)
	signaturePattern = regexp.MustCompile(`\[signature:([1-9A-HJ-NP-Za-km-z]+)\]`)
)

// OwnerMarker 返回公钥对应的所有者标记 [owner:<base58>]
//
// subkey 中带有该标记的字典条目只能由对应私钥写入。记录的 key 是
// 应用 key 的 blake3 摘要，不会含有标记。
func OwnerMarker(marshalledPubKey []byte) []byte {
	return []byte("[owner:" + base58.Encode(marshalledPubKey) + "]")
}

// SignatureValidator 保护带所有者标记的记录
//
// subkey 含 [owner:...] 的字典条目，值末尾必须带有所有者对
// (key, subkey, value, expiration) 的签名 [signature:...]。
type SignatureValidator struct {
	key   crypto.PrivateKey
	owner []byte
}

var _ interfaces.Validator = (*SignatureValidator)(nil)

// NewSignatureValidator 创建签名校验器
func NewSignatureValidator(key crypto.PrivateKey) (*SignatureValidator, error) {
	if key == nil {
		return nil, crypto.ErrNilPrivateKey
	}
	pub, err := crypto.MarshalPublicKey(key.GetPublic())
	if err != nil {
		return nil, err
	}
	return &SignatureValidator{key: key, owner: OwnerMarker(pub)}, nil
}

// LocalOwner 返回本节点的所有者标记
func (v *SignatureValidator) LocalOwner() []byte {
	return v.owner
}

// Validate 校验所有者签名
func (v *SignatureValidator) Validate(rec *interfaces.Record) bool {
	owners := ownerPattern.FindAllSubmatch(rec.Subkey, -1)
	if len(owners) == 0 {
		return true
	}
	for _, m := range owners[1:] {
		if !bytes.Equal(m[1], owners[0][1]) {
			logger.Debug("记录含多个所有者")
			return false
		}
	}

	pubRaw, err := base58.Decode(string(owners[0][1]))
	if err != nil {
		return false
	}
	pub, err := crypto.UnmarshalPublicKeyBytes(pubRaw)
	if err != nil {
		return false
	}

	sigs := signaturePattern.FindAllSubmatch(rec.Value, -1)
	if len(sigs) != 1 {
		return false
	}
	sig, err := base58.Decode(string(sigs[0][1]))
	if err != nil {
		return false
	}

	ok, err := pub.Verify(recordSigningBytes(rec.Key, rec.Subkey, v.StripValue(rec), rec.ExpirationTime), sig)
	return err == nil && ok
}

// SignValue 本节点为所有者时附加签名
func (v *SignatureValidator) SignValue(rec *interfaces.Record) []byte {
	if !bytes.Contains(rec.Subkey, v.owner) {
		return rec.Value
	}
	sig, err := v.key.Sign(recordSigningBytes(rec.Key, rec.Subkey, rec.Value, rec.ExpirationTime))
	if err != nil {
		logger.Warn("记录签名失败", "error", err)
		return rec.Value
	}
	out := make([]byte, 0, len(rec.Value)+len(sig)*2)
	out = append(out, rec.Value...)
	out = append(out, "[signature:"...)
	out = append(out, base58.Encode(sig)...)
	return append(out, ']')
}

// StripValue 去掉签名
func (v *SignatureValidator) StripValue(rec *interfaces.Record) []byte {
	return signaturePattern.ReplaceAll(rec.Value, nil)
}

// Priority 签名校验优先执行
func (v *SignatureValidator) Priority() int {
	return 10
}

// recordSigningBytes 签名内容：{key=1, subkey=2, value=3, expiration=4}
func recordSigningBytes(key, subkey, value []byte, exp float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, subkey)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, value)
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(exp))
}

// ============================================================================
//                              谓词与大小校验器
// ============================================================================

// PredicateValidator 由应用提供的谓词决定是否接受
type PredicateValidator struct {
	predicate func(rec *interfaces.Record) bool
	priority  int
}

var _ interfaces.Validator = (*PredicateValidator)(nil)

// NewPredicateValidator 创建谓词校验器
func NewPredicateValidator(predicate func(rec *interfaces.Record) bool, priority int) *PredicateValidator {
	return &PredicateValidator{predicate: predicate, priority: priority}
}

// Validate 执行谓词
func (v *PredicateValidator) Validate(rec *interfaces.Record) bool {
	return v.predicate == nil || v.predicate(rec)
}

// SignValue 原样返回
func (v *PredicateValidator) SignValue(rec *interfaces.Record) []byte { return rec.Value }

// StripValue 原样返回
func (v *PredicateValidator) StripValue(rec *interfaces.Record) []byte { return rec.Value }

// Priority 返回优先级
func (v *PredicateValidator) Priority() int { return v.priority }

// MaxSizeValidator 拒绝超过上限的值
type MaxSizeValidator struct {
	limit int
}

var _ interfaces.Validator = (*MaxSizeValidator)(nil)

// NewMaxSizeValidator 创建大小校验器
func NewMaxSizeValidator(limit int) *MaxSizeValidator {
	return &MaxSizeValidator{limit: limit}
}

// Validate 检查值长度（含签名）
func (v *MaxSizeValidator) Validate(rec *interfaces.Record) bool {
	return len(rec.Value) <= v.limit
}

// SignValue 原样返回
func (v *MaxSizeValidator) SignValue(rec *interfaces.Record) []byte { return rec.Value }

// StripValue 原样返回
func (v *MaxSizeValidator) StripValue(rec *interfaces.Record) []byte { return rec.Value }

// Priority 最先检查
func (v *MaxSizeValidator) Priority() int { return 20 }
