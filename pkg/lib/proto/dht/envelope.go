package dht

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================================================
//                              信封拼装 / 拆分
// ============================================================================
//
// 签名覆盖"收到的原始字节"而非重新编码的结果：
//   - 签名方：body 为不含字段 1 的消息编码，payload = tag(1)+auth(无签名) + body
//   - 验证方：从原始字节中取出字段 1，按字段剔除签名后重建同样的 payload
//
// 这样对任意带认证的消息都能统一验证，与具体消息类型无关。

// Seal 将认证信封置于消息字段 1 之前
func Seal(authRaw, body []byte) []byte {
	b := make([]byte, 0, len(authRaw)+len(body)+8)
	b = protowire.AppendTag(b, FieldAuth, protowire.BytesType)
	b = protowire.AppendBytes(b, authRaw)
	return append(b, body...)
}

// Open 拆出认证信封原始字节与其余字段
//
// 字段 1 缺失时 authRaw 为 nil；字段 1 出现多次视为格式错误。
func Open(msg []byte) (authRaw, rest []byte, err error) {
	rest = make([]byte, 0, len(msg))
	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, nil, malformed(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, nil, malformed(m)
		}
		if num == FieldAuth {
			if authRaw != nil {
				return nil, nil, fmt.Errorf("%w: duplicate auth field", ErrMalformed)
			}
			if authRaw, err = readBytes(num, typ, b[n:n+m]); err != nil {
				return nil, nil, err
			}
		} else {
			rest = append(rest, b[:n+m]...)
		}
		b = b[n+m:]
	}
	return authRaw, rest, nil
}

// StripField 移除消息中编号为 num 的全部字段，其余字段按原字节保留
func StripField(msg []byte, num protowire.Number) ([]byte, error) {
	out := make([]byte, 0, len(msg))
	b := msg
	for len(b) > 0 {
		fnum, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(n)
		}
		m := protowire.ConsumeFieldValue(fnum, typ, b[n:])
		if m < 0 {
			return nil, malformed(m)
		}
		if fnum != num {
			out = append(out, b[:n+m]...)
		}
		b = b[n+m:]
	}
	return out, nil
}

// SigningPayload 计算签名覆盖的字节：去掉签名字段的信封 + 其余字段
func SigningPayload(authRaw []byte, sigField protowire.Number, rest []byte) ([]byte, error) {
	unsigned, err := StripField(authRaw, sigField)
	if err != nil {
		return nil, err
	}
	return Seal(unsigned, rest), nil
}
