package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// TestStoreRequest_RoundTrip 测试批量存储请求编解码，空 subkey 需保持下标对齐
func TestStoreRequest_RoundTrip(t *testing.T) {
	req := &StoreRequest{
		Keys:           [][]byte{[]byte("k1"), []byte("k2")},
		Subkeys:        [][]byte{{}, []byte("s")},
		Values:         [][]byte{[]byte("v1"), []byte("v2")},
		ExpirationTime: []float64{100.5, 200},
		InCache:        []bool{false, true},
		Peer:           &NodeInfo{NodeID: []byte{1, 2, 3}},
	}

	var got StoreRequest
	require.NoError(t, got.Unmarshal(req.Marshal()))
	assert.Len(t, got.Subkeys, 2)
	assert.Empty(t, got.Subkeys[0])
	assert.Equal(t, []byte("s"), got.Subkeys[1])
	assert.Equal(t, req.ExpirationTime, got.ExpirationTime)
	assert.Equal(t, req.InCache, got.InCache)
	assert.Equal(t, req.Peer.NodeID, got.Peer.NodeID)
	assert.Nil(t, got.Auth)
}

// TestFindResponse_KeepsEmptyResults 测试 NOT_FOUND 空结果不会丢失
func TestFindResponse_KeepsEmptyResults(t *testing.T) {
	resp := &FindResponse{
		Results: []*FindResult{
			{},
			{
				Type:           ResultFoundRegular,
				Value:          []byte("v"),
				ExpirationTime: 42,
				NearestNodeIDs: [][]byte{{9}},
				NearestPeerIDs: [][]byte{[]byte("mem://9")},
			},
		},
	}

	var got FindResponse
	require.NoError(t, got.Unmarshal(resp.Marshal()))
	require.Len(t, got.Results, 2)
	assert.Equal(t, ResultNotFound, got.Results[0].Type)
	assert.Equal(t, ResultFoundRegular, got.Results[1].Type)
	assert.Equal(t, "mem://9", string(got.Results[1].NearestPeerIDs[0]))
}

// TestReadBools_Unpacked 测试兼容非 packed 编码
func TestReadBools_Unpacked(t *testing.T) {
	var b []byte
	for _, v := range []bool{true, false, true} {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	}
	var got StoreResponse
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, []bool{true, false, true}, got.StoreOK)
}

// TestUnmarshal_Malformed 测试畸形输入返回错误而非 panic
func TestUnmarshal_Malformed(t *testing.T) {
	inputs := [][]byte{
		{0x0a, 0x05, 0x01},       // 长度越界
		{0xff, 0xff, 0xff, 0xff}, // 非法 tag
		{0x11, 0x01},             // fixed64 截断
	}
	for _, in := range inputs {
		var m FindRequest
		assert.ErrorIs(t, m.Unmarshal(in), ErrMalformed)
	}

	// 字段类型不符
	var p PingRequest
	b := protowire.AppendTag(nil, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("x"))
	assert.ErrorIs(t, p.Unmarshal(b), ErrMalformed)
}

// TestEnvelope_SealOpen 测试信封拼装与签名载荷
func TestEnvelope_SealOpen(t *testing.T) {
	auth := &RequestAuthInfo{Time: 1, Nonce: []byte("n")}
	unsigned := auth.Marshal()
	auth.Signature = []byte("sig")

	body := (&FindRequest{Keys: [][]byte{[]byte("k")}}).Marshal()
	msg := Seal(auth.Marshal(), body)

	authRaw, rest, err := Open(msg)
	require.NoError(t, err)
	assert.Equal(t, body, rest)

	payload, err := SigningPayload(authRaw, FieldRequestSignature, rest)
	require.NoError(t, err)
	assert.Equal(t, Seal(unsigned, body), payload)

	var decoded FindRequest
	require.NoError(t, decoded.Unmarshal(msg))
	assert.Equal(t, []byte("sig"), decoded.Auth.Signature)
}

// TestEnvelope_DuplicateAuth 测试重复的信封字段被拒绝
func TestEnvelope_DuplicateAuth(t *testing.T) {
	msg := Seal([]byte{}, Seal([]byte{}, nil))
	_, _, err := Open(msg)
	assert.ErrorIs(t, err, ErrMalformed)
}

// TestDictionaryValue_RoundTrip 测试字典值编解码
func TestDictionaryValue_RoundTrip(t *testing.T) {
	dv := &DictionaryValue{Entries: []*DictionaryEntry{
		{Subkey: []byte("a"), Value: []byte("1"), ExpirationTime: 10},
		{Subkey: []byte("b"), Value: []byte("2"), ExpirationTime: 20},
	}}
	var got DictionaryValue
	require.NoError(t, got.Unmarshal(dv.Marshal()))
	require.Len(t, got.Entries, 2)
	assert.Equal(t, float64(20), got.Entries[1].ExpirationTime)
}
