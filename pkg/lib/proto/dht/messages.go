package dht

import "google.golang.org/protobuf/encoding/protowire"

// ============================================================================
//                              NodeInfo
// ============================================================================

// NodeInfo 调用方/响应方身份
type NodeInfo struct {
	NodeID []byte
}

// Marshal 编码
func (m *NodeInfo) Marshal() []byte {
	return appendBytes(nil, 1, m.NodeID)
}

// Unmarshal 解码
func (m *NodeInfo) Unmarshal(b []byte) error {
	*m = NodeInfo{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		if num == 1 {
			m.NodeID, err = readBytes(num, typ, val)
		}
		return err
	})
}

func readNodeInfo(dst **NodeInfo, num protowire.Number, typ protowire.Type, val []byte) error {
	*dst = new(NodeInfo)
	return readMessage(*dst, num, typ, val)
}

// ============================================================================
//                              Ping
// ============================================================================

// PingRequest ping 请求
type PingRequest struct {
	Auth     *RequestAuthInfo
	Peer     *NodeInfo
	Validate bool
}

// Marshal 编码
func (m *PingRequest) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendMessage(b, 2, m.Peer)
	b = appendBool(b, 3, m.Validate)
	return b
}

// Unmarshal 解码
func (m *PingRequest) Unmarshal(b []byte) error {
	*m = PingRequest{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(RequestAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			err = readNodeInfo(&m.Peer, num, typ, val)
		case 3:
			m.Validate, err = readBool(num, typ, val)
		}
		return err
	})
}

// PingResponse ping 响应
type PingResponse struct {
	Auth      *ResponseAuthInfo
	Peer      *NodeInfo
	DHTTime   float64
	Available bool
}

// Marshal 编码
func (m *PingResponse) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendMessage(b, 2, m.Peer)
	b = appendDouble(b, 4, m.DHTTime)
	b = appendBool(b, 5, m.Available)
	return b
}

// Unmarshal 解码
func (m *PingResponse) Unmarshal(b []byte) error {
	*m = PingResponse{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(ResponseAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			err = readNodeInfo(&m.Peer, num, typ, val)
		case 4:
			m.DHTTime, err = readDouble(num, typ, val)
		case 5:
			m.Available, err = readBool(num, typ, val)
		}
		return err
	})
}

// ============================================================================
//                              Store
// ============================================================================

// StoreRequest 批量存储请求，各 repeated 字段按下标对齐
type StoreRequest struct {
	Auth           *RequestAuthInfo
	Keys           [][]byte
	Subkeys        [][]byte
	Values         [][]byte
	ExpirationTime []float64
	InCache        []bool
	Peer           *NodeInfo
}

// Marshal 编码
func (m *StoreRequest) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendRepeatedBytes(b, 2, m.Keys)
	b = appendRepeatedBytes(b, 3, m.Subkeys)
	b = appendRepeatedBytes(b, 4, m.Values)
	b = appendPackedDoubles(b, 5, m.ExpirationTime)
	b = appendPackedBools(b, 6, m.InCache)
	b = appendMessage(b, 7, m.Peer)
	return b
}

// Unmarshal 解码
func (m *StoreRequest) Unmarshal(b []byte) error {
	*m = StoreRequest{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		var v []byte
		switch num {
		case 1:
			m.Auth = new(RequestAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			v, err = readBytes(num, typ, val)
			m.Keys = append(m.Keys, v)
		case 3:
			v, err = readBytes(num, typ, val)
			m.Subkeys = append(m.Subkeys, v)
		case 4:
			v, err = readBytes(num, typ, val)
			m.Values = append(m.Values, v)
		case 5:
			m.ExpirationTime, err = readDoubles(m.ExpirationTime, num, typ, val)
		case 6:
			m.InCache, err = readBools(m.InCache, num, typ, val)
		case 7:
			err = readNodeInfo(&m.Peer, num, typ, val)
		}
		return err
	})
}

// StoreResponse 存储响应，每个 key 一个结果
type StoreResponse struct {
	Auth    *ResponseAuthInfo
	StoreOK []bool
	Peer    *NodeInfo
}

// Marshal 编码
func (m *StoreResponse) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendPackedBools(b, 2, m.StoreOK)
	b = appendMessage(b, 3, m.Peer)
	return b
}

// Unmarshal 解码
func (m *StoreResponse) Unmarshal(b []byte) error {
	*m = StoreResponse{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(ResponseAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			m.StoreOK, err = readBools(m.StoreOK, num, typ, val)
		case 3:
			err = readNodeInfo(&m.Peer, num, typ, val)
		}
		return err
	})
}

// ============================================================================
//                              Find
// ============================================================================

// FindRequest 查找请求
type FindRequest struct {
	Auth *RequestAuthInfo
	Keys [][]byte
	Peer *NodeInfo
}

// Marshal 编码
func (m *FindRequest) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	b = appendRepeatedBytes(b, 2, m.Keys)
	b = appendMessage(b, 3, m.Peer)
	return b
}

// Unmarshal 解码
func (m *FindRequest) Unmarshal(b []byte) error {
	*m = FindRequest{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(RequestAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			var v []byte
			v, err = readBytes(num, typ, val)
			m.Keys = append(m.Keys, v)
		case 3:
			err = readNodeInfo(&m.Peer, num, typ, val)
		}
		return err
	})
}

// ResultType 查找结果类型
type ResultType int32

const (
	// ResultNotFound 未找到
	ResultNotFound ResultType = 0
	// ResultFoundRegular 普通记录
	ResultFoundRegular ResultType = 1
	// ResultFoundDictionary 字典记录
	ResultFoundDictionary ResultType = 2
)

// String 返回类型名
func (t ResultType) String() string {
	switch t {
	case ResultNotFound:
		return "NOT_FOUND"
	case ResultFoundRegular:
		return "FOUND_REGULAR"
	case ResultFoundDictionary:
		return "FOUND_DICTIONARY"
	default:
		return "UNKNOWN"
	}
}

// FindResult 单个 key 的查找结果
//
// 无论是否找到值，都携带响应方已知的最近节点。
type FindResult struct {
	Type           ResultType
	Value          []byte
	ExpirationTime float64
	NearestNodeIDs [][]byte
	NearestPeerIDs [][]byte
}

// Marshal 编码
func (m *FindResult) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Type))
	b = appendBytes(b, 2, m.Value)
	b = appendDouble(b, 3, m.ExpirationTime)
	b = appendRepeatedBytes(b, 4, m.NearestNodeIDs)
	b = appendRepeatedBytes(b, 5, m.NearestPeerIDs)
	return b
}

// Unmarshal 解码
func (m *FindResult) Unmarshal(b []byte) error {
	*m = FindResult{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		var v []byte
		switch num {
		case 1:
			var t uint64
			t, err = readVarint(num, typ, val)
			m.Type = ResultType(t)
		case 2:
			m.Value, err = readBytes(num, typ, val)
		case 3:
			m.ExpirationTime, err = readDouble(num, typ, val)
		case 4:
			v, err = readBytes(num, typ, val)
			m.NearestNodeIDs = append(m.NearestNodeIDs, v)
		case 5:
			v, err = readBytes(num, typ, val)
			m.NearestPeerIDs = append(m.NearestPeerIDs, v)
		}
		return err
	})
}

// FindResponse 查找响应，每个 key 一个结果
type FindResponse struct {
	Auth    *ResponseAuthInfo
	Results []*FindResult
	Peer    *NodeInfo
}

// Marshal 编码
func (m *FindResponse) Marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Auth)
	for _, r := range m.Results {
		// 空结果也必须写出，保持与 keys 下标对齐
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Marshal())
	}
	b = appendMessage(b, 3, m.Peer)
	return b
}

// Unmarshal 解码
func (m *FindResponse) Unmarshal(b []byte) error {
	*m = FindResponse{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Auth = new(ResponseAuthInfo)
			err = readMessage(m.Auth, num, typ, val)
		case 2:
			r := new(FindResult)
			err = readMessage(r, num, typ, val)
			m.Results = append(m.Results, r)
		case 3:
			err = readNodeInfo(&m.Peer, num, typ, val)
		}
		return err
	})
}

// ============================================================================
//                              字典值
// ============================================================================

// DictionaryEntry 字典中的一个子键
type DictionaryEntry struct {
	Subkey         []byte
	Value          []byte
	ExpirationTime float64
}

// Marshal 编码
func (m *DictionaryEntry) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Subkey)
	b = appendBytes(b, 2, m.Value)
	b = appendDouble(b, 3, m.ExpirationTime)
	return b
}

// Unmarshal 解码
func (m *DictionaryEntry) Unmarshal(b []byte) error {
	*m = DictionaryEntry{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		switch num {
		case 1:
			m.Subkey, err = readBytes(num, typ, val)
		case 2:
			m.Value, err = readBytes(num, typ, val)
		case 3:
			m.ExpirationTime, err = readDouble(num, typ, val)
		}
		return err
	})
}

// DictionaryValue FOUND_DICTIONARY 时 FindResult.Value 的编码
type DictionaryValue struct {
	Entries []*DictionaryEntry
}

// Marshal 编码
func (m *DictionaryValue) Marshal() []byte {
	var b []byte
	for _, e := range m.Entries {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Marshal())
	}
	return b
}

// Unmarshal 解码
func (m *DictionaryValue) Unmarshal(b []byte) error {
	*m = DictionaryValue{}
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
		if num != 1 {
			return nil
		}
		e := new(DictionaryEntry)
		if err := readMessage(e, num, typ, val); err != nil {
			return err
		}
		m.Entries = append(m.Entries, e)
		return nil
	})
}
