package dht

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/servicer"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// DHT 协议方法名
const (
	MethodPing  = "dht.ping"
	MethodStore = "dht.store"
	MethodFind  = "dht.find"
)

// PeerSeenFunc 成功交互后的路由表刷新回调
type PeerSeenFunc func(id types.NodeID, addr string)

// Protocol ping/store/find 的服务端与客户端
//
// 路由表与记录存储由 DHT 持有，这里只引用。每次成功交互（入站请求通过认证、
// 出站调用收到合法响应）都会调用 peerSeen。
type Protocol struct {
	svc      *servicer.Servicer
	rt       *RoutingTable
	store    *RecordStore
	k        int
	clk      clock.Clock
	peerSeen PeerSeenFunc
}

// NewProtocol 创建协议层
func NewProtocol(svc *servicer.Servicer, rt *RoutingTable, store *RecordStore, k int, clk clock.Clock, peerSeen PeerSeenFunc) *Protocol {
	if peerSeen == nil {
		peerSeen = func(types.NodeID, string) {}
	}
	return &Protocol{svc: svc, rt: rt, store: store, k: k, clk: clk, peerSeen: peerSeen}
}

// Register 在 servicer 上注册三个方法
func (p *Protocol) Register() error {
	methods := []servicer.Method{
		{Name: MethodPing, Capability: auth.CapabilityDHT, Handler: p.handlePing},
		{Name: MethodStore, Capability: auth.CapabilityDHT, Handler: p.handleStore},
		{Name: MethodFind, Capability: auth.CapabilityDHT, Handler: p.handleFind},
	}
	for _, m := range methods {
		if err := p.svc.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) selfInfo() *pb.NodeInfo {
	return &pb.NodeInfo{NodeID: p.svc.NodeID().Bytes()}
}

// checkPeer 校验请求中声明的 NodeInfo
//
// 未携带时返回 false（调用方不加入路由表）；声明的 ID 与认证身份不一致时报错。
func checkPeer(info *pb.NodeInfo, caller *auth.Caller) (bool, error) {
	if info == nil || len(info.NodeID) == 0 {
		return false, nil
	}
	id, err := types.NodeIDFromBytes(info.NodeID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNodeIDMismatch, err)
	}
	if id != caller.NodeID {
		return false, ErrNodeIDMismatch
	}
	return true, nil
}

// ============================================================================
//                              服务端
// ============================================================================

func (p *Protocol) handlePing(ctx context.Context, req *servicer.Request) ([]byte, error) {
	var msg pb.PingRequest
	if err := msg.Unmarshal(req.Body); err != nil {
		return nil, err
	}
	present, err := checkPeer(msg.Peer, req.Caller)
	if err != nil {
		return nil, err
	}

	available := false
	if msg.Validate && req.From != "" {
		_, err := p.CallPing(ctx, req.From, req.Caller.NodeID, false)
		available = err == nil
		if err != nil {
			logger.Debug("回拨验证失败", "peer", req.Caller.NodeID.ShortString(), "addr", req.From, "error", err)
		}
	}
	if present && (!msg.Validate || available) {
		p.peerSeen(req.Caller.NodeID, req.From)
	}

	resp := &pb.PingResponse{
		Peer:      p.selfInfo(),
		DHTTime:   types.ToDHTTime(p.clk.Now()),
		Available: available,
	}
	return resp.Marshal(), nil
}

func (p *Protocol) handleStore(_ context.Context, req *servicer.Request) ([]byte, error) {
	var msg pb.StoreRequest
	if err := msg.Unmarshal(req.Body); err != nil {
		return nil, err
	}
	n := len(msg.Keys)
	if len(msg.Values) != n || len(msg.ExpirationTime) != n ||
		(len(msg.Subkeys) != 0 && len(msg.Subkeys) != n) ||
		(len(msg.InCache) != 0 && len(msg.InCache) != n) {
		return nil, fmt.Errorf("%w: store arrays not aligned", servicer.ErrMalformedMessage)
	}
	present, err := checkPeer(msg.Peer, req.Caller)
	if err != nil {
		return nil, err
	}

	results := make([]bool, n)
	for i, raw := range msg.Keys {
		key, err := types.NodeIDFromBytes(raw)
		if err != nil {
			continue
		}
		var subkey []byte
		if len(msg.Subkeys) != 0 {
			subkey = msg.Subkeys[i]
		}
		inCache := len(msg.InCache) != 0 && msg.InCache[i]
		results[i] = p.store.Put(key, subkey, msg.Values[i], msg.ExpirationTime[i], inCache)
	}
	if present {
		p.peerSeen(req.Caller.NodeID, req.From)
	}

	resp := &pb.StoreResponse{StoreOK: results, Peer: p.selfInfo()}
	return resp.Marshal(), nil
}

func (p *Protocol) handleFind(_ context.Context, req *servicer.Request) ([]byte, error) {
	var msg pb.FindRequest
	if err := msg.Unmarshal(req.Body); err != nil {
		return nil, err
	}
	present, err := checkPeer(msg.Peer, req.Caller)
	if err != nil {
		return nil, err
	}

	resp := &pb.FindResponse{Results: make([]*pb.FindResult, len(msg.Keys)), Peer: p.selfInfo()}
	for i, raw := range msg.Keys {
		r := &pb.FindResult{Type: pb.ResultNotFound}
		resp.Results[i] = r
		key, err := types.NodeIDFromBytes(raw)
		if err != nil {
			continue
		}
		if v, ok := p.store.Get(key); ok {
			v.toFindResult(r)
		}
		for _, c := range p.rt.NearestPeers(key, p.k, req.Caller.NodeID) {
			r.NearestNodeIDs = append(r.NearestNodeIDs, c.ID.Bytes())
			r.NearestPeerIDs = append(r.NearestPeerIDs, []byte(c.Addr))
		}
	}
	if present {
		p.peerSeen(req.Caller.NodeID, req.From)
	}
	return resp.Marshal(), nil
}

// ============================================================================
//                              客户端
// ============================================================================

// PingResult ping 响应
type PingResult struct {
	// ID 响应方 NodeID
	ID types.NodeID

	// DHTTime 响应方本地时间
	DHTTime types.DHTTime

	// Available 请求 validate 时，响应方能否回拨本节点
	Available bool
}

// invoke 发起调用，expect 非空时要求响应方身份一致
func (p *Protocol) invoke(ctx context.Context, addr string, expect types.NodeID, method string, body []byte) (*servicer.Response, error) {
	var opts []servicer.CallOption
	if !expect.IsEmpty() {
		opts = append(opts, servicer.WithExpectPeer(expect))
	}
	return p.svc.Invoke(ctx, addr, method, body, opts...)
}

// responded 校验响应中的 NodeInfo 并刷新路由表
func (p *Protocol) responded(resp *servicer.Response, info *pb.NodeInfo, addr string) error {
	present, err := checkPeer(info, resp.Peer)
	if err != nil {
		return err
	}
	if present {
		p.peerSeen(resp.Peer.NodeID, addr)
	}
	return nil
}

// CallPing ping addr 处的节点；expect 为空时接受任意身份
func (p *Protocol) CallPing(ctx context.Context, addr string, expect types.NodeID, validate bool) (*PingResult, error) {
	req := &pb.PingRequest{Peer: p.selfInfo(), Validate: validate}
	resp, err := p.invoke(ctx, addr, expect, MethodPing, req.Marshal())
	if err != nil {
		return nil, err
	}
	var msg pb.PingResponse
	if err := msg.Unmarshal(resp.Body); err != nil {
		return nil, err
	}
	if err := p.responded(resp, msg.Peer, addr); err != nil {
		return nil, err
	}
	return &PingResult{ID: resp.Peer.NodeID, DHTTime: msg.DHTTime, Available: msg.Available}, nil
}

// StoreItem 一条待写入的记录
type StoreItem struct {
	Key            types.NodeID
	Subkey         []byte
	Value          []byte
	ExpirationTime types.DHTTime
	InCache        bool
}

// CallStore 批量写入，返回与 items 对齐的结果
func (p *Protocol) CallStore(ctx context.Context, to *types.Contact, items []StoreItem) ([]bool, error) {
	req := &pb.StoreRequest{
		Keys:           make([][]byte, len(items)),
		Subkeys:        make([][]byte, len(items)),
		Values:         make([][]byte, len(items)),
		ExpirationTime: make([]float64, len(items)),
		InCache:        make([]bool, len(items)),
		Peer:           p.selfInfo(),
	}
	for i, it := range items {
		req.Keys[i] = it.Key.Bytes()
		req.Subkeys[i] = it.Subkey
		req.Values[i] = it.Value
		req.ExpirationTime[i] = it.ExpirationTime
		req.InCache[i] = it.InCache
	}

	resp, err := p.invoke(ctx, to.Addr, to.ID, MethodStore, req.Marshal())
	if err != nil {
		return nil, err
	}
	var msg pb.StoreResponse
	if err := msg.Unmarshal(resp.Body); err != nil {
		return nil, err
	}
	if len(msg.StoreOK) != len(items) {
		return nil, fmt.Errorf("%w: %d results for %d keys", ErrInvalidResponse, len(msg.StoreOK), len(items))
	}
	if err := p.responded(resp, msg.Peer, to.Addr); err != nil {
		return nil, err
	}
	return msg.StoreOK, nil
}

// FindResult 单个 key 的查找结果
type FindResult struct {
	// Type 结果类型
	Type pb.ResultType

	// Value 找到的值，NOT_FOUND 时为 nil
	Value *Value

	// Nearest 响应方已知的最近节点，按距离升序
	Nearest []*types.Contact
}

// CallFind 查询 keys，返回与 keys 对齐的结果
func (p *Protocol) CallFind(ctx context.Context, to *types.Contact, keys []types.NodeID) ([]*FindResult, error) {
	req := &pb.FindRequest{Keys: make([][]byte, len(keys)), Peer: p.selfInfo()}
	for i, k := range keys {
		req.Keys[i] = k.Bytes()
	}

	resp, err := p.invoke(ctx, to.Addr, to.ID, MethodFind, req.Marshal())
	if err != nil {
		return nil, err
	}
	var msg pb.FindResponse
	if err := msg.Unmarshal(resp.Body); err != nil {
		return nil, err
	}
	if len(msg.Results) != len(keys) {
		return nil, fmt.Errorf("%w: %d results for %d keys", ErrInvalidResponse, len(msg.Results), len(keys))
	}

	now := p.clk.Now()
	self := p.svc.NodeID()
	out := make([]*FindResult, len(keys))
	for i, r := range msg.Results {
		if len(r.NearestNodeIDs) != len(r.NearestPeerIDs) {
			return nil, fmt.Errorf("%w: nearest arrays not aligned", ErrInvalidResponse)
		}
		v, err := valueFromFindResult(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		fr := &FindResult{Type: r.Type, Value: v}
		if v == nil {
			fr.Type = pb.ResultNotFound
		}
		for j, rawID := range r.NearestNodeIDs {
			id, err := types.NodeIDFromBytes(rawID)
			if err != nil || id == self || len(r.NearestPeerIDs[j]) == 0 {
				continue
			}
			fr.Nearest = append(fr.Nearest, types.NewContact(id, string(r.NearestPeerIDs[j]), now))
		}
		out[i] = fr
	}

	if err := p.responded(resp, msg.Peer, to.Addr); err != nil {
		return nil, err
	}
	return out, nil
}
