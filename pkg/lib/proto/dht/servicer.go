package dht

import "google.golang.org/protobuf/encoding/protowire"

// ServicerRequest 应用方法的请求载荷
type ServicerRequest struct {
	Auth       *RequestAuthInfo
	Payload    []byte
	Compressed bool
}

// Marshal 编码
func (m *ServicerRequest) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendBytes(b, 2, m.Payload)
	b = appendBool(b, 3, m.Compressed)
	return b
}

// Unmarshal 解码
func (m *ServicerRequest) Unmarshal(b []byte) error {
	*m = ServicerRequest{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(RequestAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			m.Payload, err = readBytes(num, typ, val)
		case 3:
			m.Compressed, err = readBool(num, typ, val)
		}
		return err
	})
}

// ServicerResponse 应用方法的响应载荷
type ServicerResponse struct {
	Auth       *ResponseAuthInfo
	Payload    []byte
	Compressed bool
}

// Marshal 编码
func (m *ServicerResponse) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendBytes(b, 2, m.Payload)
	b = appendBool(b, 3, m.Compressed)
	return b
}

// Unmarshal 解码
func (m *ServicerResponse) Unmarshal(b []byte) error {
	*m = ServicerResponse{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(ResponseAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			m.Payload, err = readBytes(num, typ, val)
		case 3:
			m.Compressed, err = readBool(num, typ, val)
		}
		return err
	})
}

// Frame 传输层帧：一次请求或一次响应
type Frame struct {
	// Method 方法名（响应帧为空）
	Method string
	// From 发送方对外公布的传输地址
	From string
	// Body 消息体
	Body []byte
	// Error 远端处理失败时的错误描述（仅响应帧）
	Error string
}

// Marshal 编码
func (m *Frame) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Method)
	b = appendString(b, 2, m.From)
	b = appendBytes(b, 3, m.Body)
	b = appendString(b, 4, m.Error)
	return b
}

// Unmarshal 解码
func (m *Frame) Unmarshal(b []byte) error {
	*m = Frame{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Method, err = readString(num, typ, val)
		case 2:
			m.From, err = readString(num, typ, val)
		case 3:
			m.Body, err = readBytes(num, typ, val)
		case 4:
			m.Error, err = readString(num, typ, val)
		}
		return err
	})
}
