package dht

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/crypto"
	"github.com/dep2p/go-meshdht/pkg/types"
)

func newSignatureValidator(t *testing.T) *SignatureValidator {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.KeyTypeEd25519)
	require.NoError(t, err)
	v, err := NewSignatureValidator(priv)
	require.NoError(t, err)
	return v
}

func ownedRecord(owner []byte, value string) *interfaces.Record {
	key := types.KeyID([]byte("experts"))
	return &interfaces.Record{
		Key:            key[:],
		Subkey:         append([]byte("peer"), owner...),
		Value:          []byte(value),
		ExpirationTime: 1234.5,
	}
}

// TestSignatureValidator_SignAndValidate 测试所有者签名与校验
func TestSignatureValidator_SignAndValidate(t *testing.T) {
	alice := newSignatureValidator(t)
	bob := newSignatureValidator(t)

	rec := ownedRecord(alice.LocalOwner(), "hello")
	signed := alice.SignValue(rec)
	assert.True(t, bytes.HasPrefix(signed, []byte("hello[signature:")))

	rec.Value = signed
	assert.True(t, alice.Validate(rec))
	assert.True(t, bob.Validate(rec), "任何节点都能用标记中的公钥校验")
	assert.Equal(t, []byte("hello"), bob.StripValue(rec))

	t.Log("✅ 签名校验正确")
}

// TestSignatureValidator_Tampered 测试篡改后的记录被拒绝
func TestSignatureValidator_Tampered(t *testing.T) {
	alice := newSignatureValidator(t)
	rec := ownedRecord(alice.LocalOwner(), "hello")
	rec.Value = alice.SignValue(rec)

	tampered := *rec
	tampered.Value = bytes.Replace(rec.Value, []byte("hello"), []byte("HELLO"), 1)
	assert.False(t, alice.Validate(&tampered))

	tampered = *rec
	tampered.ExpirationTime = rec.ExpirationTime + 1
	assert.False(t, alice.Validate(&tampered), "过期时间也在签名范围内")

	unsigned := ownedRecord(alice.LocalOwner(), "hello")
	assert.False(t, alice.Validate(unsigned), "缺少签名")

	twice := *rec
	twice.Value = append(append([]byte(nil), rec.Value...), rec.Value[len("hello"):]...)
	assert.False(t, alice.Validate(&twice), "多个签名")

	t.Log("✅ 篡改检测正确")
}

// TestSignatureValidator_ForeignOwner 测试不能替他人签名
func TestSignatureValidator_ForeignOwner(t *testing.T) {
	alice := newSignatureValidator(t)
	mallory := newSignatureValidator(t)

	rec := ownedRecord(alice.LocalOwner(), "forged")
	rec.Value = mallory.SignValue(rec)
	assert.Equal(t, []byte("forged"), rec.Value, "非所有者不签名")
	assert.False(t, alice.Validate(rec))

	t.Log("✅ 非所有者写入被拒绝")
}

// TestSignatureValidator_Unowned 测试无所有者标记的记录直接通过
func TestSignatureValidator_Unowned(t *testing.T) {
	v := newSignatureValidator(t)
	rec := &interfaces.Record{Key: []byte("k"), Value: []byte("v"), ExpirationTime: 1}

	assert.True(t, v.Validate(rec))
	assert.Equal(t, []byte("v"), v.SignValue(rec))

	other := newSignatureValidator(t)
	rec.Subkey = append(append([]byte(nil), v.LocalOwner()...), other.LocalOwner()...)
	assert.False(t, v.Validate(rec), "多个所有者")

	// 记录 key 是摘要，只有 subkey 中的标记表示所有者
	marked := &interfaces.Record{Key: append([]byte("k"), v.LocalOwner()...), Value: []byte("v"), ExpirationTime: 1}
	assert.True(t, other.Validate(marked))
	assert.Equal(t, []byte("v"), v.SignValue(marked))

	t.Log("✅ 无所有者记录处理正确")
}

// TestCompositeValidator_Chain 测试组合校验器的顺序与剥离
func TestCompositeValidator_Chain(t *testing.T) {
	sig := newSignatureValidator(t)
	var seen []byte
	pred := NewPredicateValidator(func(rec *interfaces.Record) bool {
		seen = rec.Value
		return !bytes.Contains(rec.Value, []byte("bad"))
	}, 0)
	chain := NewCompositeValidator(pred, sig)
	chain.Extend(sig)
	assert.Equal(t, 2, chain.Len(), "重复实例不追加")

	rec := ownedRecord(sig.LocalOwner(), "good")
	rec.Value = chain.SignValue(rec)
	assert.True(t, chain.Validate(rec))
	assert.Equal(t, []byte("good"), seen, "低优先级校验器看到剥离后的值")
	assert.Equal(t, []byte("good"), chain.StripValue(rec))

	bad := ownedRecord(sig.LocalOwner(), "bad")
	bad.Value = chain.SignValue(bad)
	assert.False(t, chain.Validate(bad))

	t.Log("✅ 组合校验器正确")
}

// TestMaxSizeValidator 测试大小上限
func TestMaxSizeValidator(t *testing.T) {
	chain := NewCompositeValidator(NewMaxSizeValidator(4))
	assert.True(t, chain.Validate(&interfaces.Record{Value: []byte("1234")}))
	assert.False(t, chain.Validate(&interfaces.Record{Value: []byte("12345")}))

	empty := NewCompositeValidator()
	assert.True(t, empty.Validate(&interfaces.Record{Value: []byte("anything")}))

	t.Log("✅ 大小校验正确")
}
