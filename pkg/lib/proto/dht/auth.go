package dht

import "google.golang.org/protobuf/encoding/protowire"

// ============================================================================
//                              认证信封消息
// ============================================================================

// 认证字段编号
const (
	// FieldAuth 所有带认证的请求/响应中，信封固定位于字段 1
	FieldAuth protowire.Number = 1

	// FieldRequestSignature RequestAuthInfo.signature
	FieldRequestSignature protowire.Number = 5

	// FieldResponseSignature ResponseAuthInfo.signature
	FieldResponseSignature protowire.Number = 3

	// FieldTokenSignature AccessToken.signature
	FieldTokenSignature protowire.Number = 4
)

// AccessToken 访问令牌
//
// 由持有者自签名，绑定用户名、公钥与过期时间。
type AccessToken struct {
	Username       string
	PublicKey      []byte
	ExpirationTime string
	Signature      []byte
}

// Marshal 编码
func (m *AccessToken) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Username)
	b = appendBytes(b, 2, m.PublicKey)
	b = appendString(b, 3, m.ExpirationTime)
	b = appendBytes(b, 4, m.Signature)
	return b
}

// SigningBytes 返回令牌签名覆盖的字节（不含签名字段）
func (m *AccessToken) SigningBytes() []byte {
	cp := *m
	cp.Signature = nil
	return cp.Marshal()
}

// Unmarshal 解码
func (m *AccessToken) Unmarshal(b []byte) error {
	*m = AccessToken{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Username, err = readString(num, typ, val)
		case 2:
			m.PublicKey, err = readBytes(num, typ, val)
		case 3:
			m.ExpirationTime, err = readString(num, typ, val)
		case 4:
			m.Signature, err = readBytes(num, typ, val)
		}
		return err
	})
}

// RequestAuthInfo 请求认证信息
type RequestAuthInfo struct {
	ClientAccessToken *AccessToken
	ServicePublicKey  []byte
	Time              float64
	Nonce             []byte
	Signature         []byte
}

// Marshal 编码
func (m *RequestAuthInfo) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.ClientAccessToken)
	b = appendBytes(b, 2, m.ServicePublicKey)
	b = appendDouble(b, 3, m.Time)
	b = appendBytes(b, 4, m.Nonce)
	b = appendBytes(b, 5, m.Signature)
	return b
}

// Unmarshal 解码
func (m *RequestAuthInfo) Unmarshal(b []byte) error {
	*m = RequestAuthInfo{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.ClientAccessToken = new(AccessToken)
			err = readMessage(m.ClientAccessToken, num, typ, val)
		case 2:
			m.ServicePublicKey, err = readBytes(num, typ, val)
		case 3:
			m.Time, err = readDouble(num, typ, val)
		case 4:
			m.Nonce, err = readBytes(num, typ, val)
		case 5:
			m.Signature, err = readBytes(num, typ, val)
		}
		return err
	})
}

// ResponseAuthInfo 响应认证信息
type ResponseAuthInfo struct {
	ServiceAccessToken *AccessToken
	Nonce              []byte
	Signature          []byte
}

// Marshal 编码
func (m *ResponseAuthInfo) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.ServiceAccessToken)
	b = appendBytes(b, 2, m.Nonce)
	b = appendBytes(b, 3, m.Signature)
	return b
}

// Unmarshal 解码
func (m *ResponseAuthInfo) Unmarshal(b []byte) error {
	*m = ResponseAuthInfo{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.ServiceAccessToken = new(AccessToken)
			err = readMessage(m.ServiceAccessToken, num, typ, val)
		case 2:
			m.Nonce, err = readBytes(num, typ, val)
		case 3:
			m.Signature, err = readBytes(num, typ, val)
		}
		return err
	})
}
