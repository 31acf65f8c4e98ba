package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pbnjay/memory"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-meshdht/internal/core/auth"
	"github.com/dep2p/go-meshdht/internal/core/metrics"
	"github.com/dep2p/go-meshdht/internal/core/servicer"
	"github.com/dep2p/go-meshdht/pkg/interfaces"
	"github.com/dep2p/go-meshdht/pkg/lib/log"
	"github.com/dep2p/go-meshdht/pkg/types"
)

var logger = log.Logger("discovery/dht")

// DHT Kademlia DHT 节点
//
// 持有路由表、记录存储与协议层，认证信封由 servicer 持有。
type DHT struct {
	// svc 方法分发与认证调用
	svc *servicer.Servicer

	// config 配置
	config *Config

	// routingTable 路由表
	routingTable *RoutingTable

	// store 记录存储
	store *RecordStore

	// proto 协议层
	proto *Protocol

	// validator 记录校验链
	validator *CompositeValidator

	clk     clock.Clock
	metrics *metrics.Metrics

	// freeMemory 系统可用内存（字节）
	freeMemory func() uint64

	// 生命周期
	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New 创建 DHT 实例
func New(svc *servicer.Servicer, opts ...ConfigOption) (*DHT, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return NewWithConfig(svc, config)
}

// NewWithConfig 使用配置创建 DHT
func NewWithConfig(svc *servicer.Servicer, config *Config) (*DHT, error) {
	if svc == nil {
		return nil, ErrNilServicer
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	validator := NewCompositeValidator(config.Validators...)
	store, err := NewRecordStore(StoreConfig{
		CacheSize:   config.CacheSize,
		StorageSize: config.StorageSize,
		Clock:       config.Clock,
		Validator:   validator,
		Persistence: config.Persistence,
	})
	if err != nil {
		return nil, NewDHTError("new", err, "load records")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DHT{
		svc:          svc,
		config:       config,
		routingTable: NewRoutingTable(svc.NodeID(), config.BucketSize, config.Clock),
		store:        store,
		validator:    validator,
		clk:          config.Clock,
		metrics:      config.Metrics,
		freeMemory:   memory.FreeMemory,
		ctx:          ctx,
		ctxCancel:    cancel,
	}
	d.proto = NewProtocol(svc, d.routingTable, store, config.BucketSize, config.Clock, d.peerSeen)
	return d, nil
}

// Start 注册协议方法并启动后台循环
func (d *DHT) Start(_ context.Context) error {
	if d.started.Load() {
		return ErrAlreadyStarted
	}

	logger.Info("正在启动 DHT", "node", d.svc.NodeID().ShortString())

	if err := d.proto.Register(); err != nil {
		return NewDHTError("start", err, "register methods")
	}
	d.started.Store(true)

	d.spawn(d.refreshLoop)
	d.spawn(d.sweepLoop)
	d.spawn(d.evictLoop)
	if d.config.StatusInterval > 0 {
		d.spawn(d.statusLoop)
	}

	logger.Info("DHT 启动成功")
	return nil
}

// Stop 停止后台循环，等待进行中的 ping 与缓存回写结束
func (d *DHT) Stop(ctx context.Context) error {
	if !d.started.Load() {
		return ErrNotStarted
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	logger.Info("正在停止 DHT")
	d.ctxCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info("DHT 已停止")
	return nil
}

// spawn 在 DHT 生命周期内运行 fn；已停止时返回 false
func (d *DHT) spawn(fn func(ctx context.Context)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
	return true
}

func (d *DHT) checkStarted() error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	if d.ctx.Err() != nil {
		return ErrDHTClosed
	}
	return nil
}

// ============================================================================
//                              访问器
// ============================================================================

// NodeID 本节点 ID
func (d *DHT) NodeID() types.NodeID {
	return d.svc.NodeID()
}

// LocalAddr 本节点传输地址
func (d *DHT) LocalAddr() string {
	return d.svc.LocalAddr()
}

// RoutingTable 路由表
func (d *DHT) RoutingTable() *RoutingTable {
	return d.routingTable
}

// RecordStore 记录存储
func (d *DHT) RecordStore() *RecordStore {
	return d.store
}

// Protocol 协议层
func (d *DHT) Protocol() *Protocol {
	return d.proto
}

// Validator 记录校验链
func (d *DHT) Validator() *CompositeValidator {
	return d.validator
}

// Servicer 方法分发器
func (d *DHT) Servicer() *servicer.Servicer {
	return d.svc
}

// ============================================================================
//                              路由表维护
// ============================================================================

// peerSeen 成功交互后刷新路由表
//
// 桶已满时在锁外 ping 最久未见的节点，无响应才驱逐。
func (d *DHT) peerSeen(id types.NodeID, addr string) {
	outcome, candidate := d.routingTable.AddOrRefresh(types.NewContact(id, addr, d.clk.Now()))
	if outcome == OutcomeAdded {
		logger.Debug("路由表新增节点", "peer", id.ShortString(), "addr", addr)
	}
	if candidate == nil {
		return
	}
	if !d.spawn(func(ctx context.Context) { d.pingCandidate(ctx, candidate) }) {
		d.routingTable.ResolveCandidate(candidate.ID, true)
	}
}

func (d *DHT) pingCandidate(ctx context.Context, c *types.Contact) {
	pctx, cancel := context.WithTimeout(ctx, d.config.RPCTimeout)
	defer cancel()

	_, err := d.proto.CallPing(pctx, c.Addr, c.ID, false)
	if err != nil && ctx.Err() != nil {
		d.routingTable.ResolveCandidate(c.ID, true)
		return
	}
	d.routingTable.ResolveCandidate(c.ID, err == nil)
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 连接引导节点并执行自查找
//
// 每个地址独立重试（指数退避，总时长 BootstrapMaxElapsed）；
// 只有全部不可达时才返回 ErrBootstrapFailed。
func (d *DHT) Bootstrap(ctx context.Context, addrs ...string) error {
	if err := d.checkStarted(); err != nil {
		return err
	}
	if len(addrs) == 0 {
		addrs = d.config.BootstrapPeers
	}

	var reached atomic.Int32
	var g errgroup.Group
	for _, addr := range addrs {
		if addr == "" || addr == d.LocalAddr() {
			continue
		}
		g.Go(func() error {
			if err := d.pingWithRetry(ctx, addr); err != nil {
				logger.Warn("引导节点不可达", "addr", addr, "error", err)
				return nil
			}
			reached.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if len(addrs) > 0 && reached.Load() == 0 {
		return ErrBootstrapFailed
	}

	if _, err := d.lookup(ctx, d.NodeID(), false); err != nil && !errors.Is(err, ErrNoNodes) {
		return NewDHTError("bootstrap", err, "self lookup")
	}
	logger.Info("引导完成", "reached", reached.Load(), "peers", d.routingTable.Size())
	return nil
}

func (d *DHT) pingWithRetry(ctx context.Context, addr string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = d.config.BootstrapMaxElapsed

	return backoff.Retry(backoff.Operation(func() error {
		res, err := d.proto.CallPing(ctx, addr, types.EmptyNodeID, true)
		if err != nil {
			var ae *auth.Error
			if errors.As(err, &ae) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !res.Available {
			logger.Warn("引导节点无法回拨本节点", "addr", addr, "local", d.LocalAddr())
		}
		return nil
	}), backoff.WithContext(b, ctx))
}

// ============================================================================
//                              读写
// ============================================================================

// StoreRequest 一条写入请求
type StoreRequest struct {
	// Key 应用层 key，经 blake3 映射到 NodeID 空间
	Key []byte

	// Subkey 字典子键，为空表示普通记录
	Subkey []byte

	// Value 值
	Value []byte

	// ExpirationTime 过期时间
	ExpirationTime types.DHTTime

	// InCache 是否作为软缓存写入
	InCache bool
}

// Store 写入一条记录，ttl 后过期
func (d *DHT) Store(ctx context.Context, key, subkey, value []byte, ttl time.Duration) (bool, error) {
	results, err := d.StoreMany(ctx, []StoreRequest{{
		Key:            key,
		Subkey:         subkey,
		Value:          value,
		ExpirationTime: types.ToDHTTime(d.clk.Now().Add(ttl)),
	}})
	if err != nil {
		return false, err
	}
	return results[0], nil
}

// StoreMany 批量写入，返回与 reqs 对齐的结果
//
// 每个 key 写入距离最近的 ReplicationFactor 个节点（本节点在其中时写本地），
// 发往同一节点的记录合并为一次 store 调用。任一副本接受即视为成功。
func (d *DHT) StoreMany(ctx context.Context, reqs []StoreRequest) ([]bool, error) {
	if err := d.checkStarted(); err != nil {
		return nil, err
	}

	items := make([]StoreItem, len(reqs))
	keys := make([]types.NodeID, 0, len(reqs))
	seen := make(map[types.NodeID]struct{}, len(reqs))
	for i, r := range reqs {
		if len(r.Key) == 0 {
			return nil, ErrInvalidKey
		}
		id := types.KeyID(r.Key)
		items[i] = StoreItem{
			Key:            id,
			Subkey:         r.Subkey,
			Value:          d.validator.SignValue(&interfaces.Record{Key: id[:], Subkey: r.Subkey, Value: r.Value, ExpirationTime: r.ExpirationTime}),
			ExpirationTime: r.ExpirationTime,
			InCache:        r.InCache,
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			keys = append(keys, id)
		}
	}

	replicas, err := d.findReplicas(ctx, keys)
	if err != nil {
		return nil, err
	}

	// 按目标节点分组
	type destBatch struct {
		contact *types.Contact
		indexes []int
	}
	self := d.NodeID()
	results := make([]bool, len(reqs))
	batches := make(map[types.NodeID]*destBatch)
	for i, it := range items {
		for _, c := range replicas[it.Key] {
			if c.ID == self {
				if d.store.Put(it.Key, it.Subkey, it.Value, it.ExpirationTime, it.InCache) {
					results[i] = true
				}
				continue
			}
			b, ok := batches[c.ID]
			if !ok {
				b = &destBatch{contact: c}
				batches[c.ID] = b
			}
			b.indexes = append(b.indexes, i)
		}
	}

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(d.config.Alpha))
	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			batch := make([]StoreItem, len(b.indexes))
			for j, i := range b.indexes {
				batch[j] = items[i]
			}
			oks, err := d.proto.CallStore(ctx, b.contact, batch)
			if err != nil {
				logger.Debug("store 调用失败", "peer", b.contact.ID.ShortString(), "error", err)
				return
			}
			mu.Lock()
			for j, ok := range oks {
				if ok {
					results[b.indexes[j]] = true
				}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results, nil
}

// findReplicas 为每个 key 查找 ReplicationFactor 个最近节点（可能包含本节点）
func (d *DHT) findReplicas(ctx context.Context, keys []types.NodeID) (map[types.NodeID][]*types.Contact, error) {
	self := types.NewContact(d.NodeID(), d.LocalAddr(), d.clk.Now())
	out := make(map[types.NodeID][]*types.Contact, len(keys))

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(d.config.Alpha))
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := d.lookup(gctx, key, false)
			if err != nil && !errors.Is(err, ErrNoNodes) {
				return err
			}
			candidates := append([]*types.Contact{self}, res.Nearest...)
			sortContacts(candidates, key)
			if len(candidates) > d.config.ReplicationFactor {
				candidates = candidates[:d.config.ReplicationFactor]
			}

			mu.Lock()
			out[key] = candidates
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get 读取 key 的值（已去掉签名等校验附加内容）
//
// 先查本地存储，未命中时执行迭代查找。找到后按配置写入本地缓存，
// 并回写到回答 NOT_FOUND 的最近节点。
func (d *DHT) Get(ctx context.Context, key []byte) (*Value, error) {
	if err := d.checkStarted(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	id := types.KeyID(key)

	if v, ok := d.store.Get(id); ok {
		return d.stripValue(id, v), nil
	}

	res, err := d.lookup(ctx, id, true)
	if err != nil && !errors.Is(err, ErrNoNodes) {
		return nil, err
	}
	if res == nil || res.Value == nil {
		return nil, ErrKeyNotFound
	}
	v := d.validValue(id, res.Value)
	if v == nil {
		return nil, ErrKeyNotFound
	}

	d.cacheValue(id, v, res.NotFound)
	return d.stripValue(id, v), nil
}

// GetSubkey 读取字典记录的一个子键
func (d *DHT) GetSubkey(ctx context.Context, key, subkey []byte) (ValueWithExpiration, error) {
	v, err := d.Get(ctx, key)
	if err != nil {
		return ValueWithExpiration{}, err
	}
	entry, ok := v.Subkey(subkey)
	if !ok {
		return ValueWithExpiration{}, ErrKeyNotFound
	}
	return entry, nil
}

// GetMany 并发读取多个 key，未找到的位置为 nil
func (d *DHT) GetMany(ctx context.Context, keys [][]byte) ([]*Value, error) {
	if err := d.checkStarted(); err != nil {
		return nil, err
	}

	out := make([]*Value, len(keys))
	sem := semaphore.NewWeighted(int64(d.config.Alpha))
	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			v, err := d.Get(ctx, key)
			switch {
			case err == nil:
				out[i] = v
			case errors.Is(err, ErrKeyNotFound):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// validValue 用校验链过滤网络返回的值；字典逐个子键校验
func (d *DHT) validValue(id types.NodeID, v *Value) *Value {
	if !v.IsDictionary() {
		rec := &interfaces.Record{Key: id[:], Value: v.Regular, ExpirationTime: v.ExpirationTime}
		if !d.validator.Validate(rec) {
			logger.Debug("丢弃未通过校验的值", "key", id.ShortString())
			return nil
		}
		return v
	}

	dict := NewDictionary()
	for _, sk := range v.Dictionary.Subkeys() {
		e, _ := v.Dictionary.Get(sk)
		rec := &interfaces.Record{Key: id[:], Subkey: sk, Value: e.Value, ExpirationTime: e.ExpirationTime}
		if d.validator.Validate(rec) {
			dict.Store(sk, e.Value, e.ExpirationTime)
		}
	}
	if dict.Len() == 0 {
		return nil
	}
	return &Value{Dictionary: dict, ExpirationTime: dict.LatestExpiration()}
}

// stripValue 返回去掉校验附加内容的副本
func (d *DHT) stripValue(id types.NodeID, v *Value) *Value {
	if !v.IsDictionary() {
		rec := &interfaces.Record{Key: id[:], Value: v.Regular, ExpirationTime: v.ExpirationTime}
		return &Value{Regular: d.validator.StripValue(rec), ExpirationTime: v.ExpirationTime}
	}
	dict := NewDictionary()
	for _, sk := range v.Dictionary.Subkeys() {
		e, _ := v.Dictionary.Get(sk)
		rec := &interfaces.Record{Key: id[:], Subkey: sk, Value: e.Value, ExpirationTime: e.ExpirationTime}
		dict.Store(sk, d.validator.StripValue(rec), e.ExpirationTime)
	}
	return &Value{Dictionary: dict, ExpirationTime: dict.LatestExpiration()}
}

// valueItems 将值拆成 store 条目
func valueItems(id types.NodeID, v *Value, inCache bool) []StoreItem {
	if !v.IsDictionary() {
		return []StoreItem{{Key: id, Value: v.Regular, ExpirationTime: v.ExpirationTime, InCache: inCache}}
	}
	items := make([]StoreItem, 0, v.Dictionary.Len())
	for _, sk := range v.Dictionary.Subkeys() {
		e, _ := v.Dictionary.Get(sk)
		items = append(items, StoreItem{Key: id, Subkey: sk, Value: e.Value, ExpirationTime: e.ExpirationTime, InCache: inCache})
	}
	return items
}

// cacheValue 缓存查找到的值
func (d *DHT) cacheValue(id types.NodeID, v *Value, notFound []*types.Contact) {
	items := valueItems(id, v, true)
	if d.config.CacheLocally {
		for _, it := range items {
			d.store.Put(it.Key, it.Subkey, it.Value, it.ExpirationTime, true)
		}
	}

	n := d.config.CacheNearest
	if n > len(notFound) {
		n = len(notFound)
	}
	for _, c := range notFound[:n] {
		d.spawn(func(ctx context.Context) {
			if _, err := d.proto.CallStore(ctx, c, items); err != nil {
				logger.Debug("缓存回写失败", "peer", c.ID.ShortString(), "error", err)
			}
		})
	}
}

// ============================================================================
//                              节点与方法
// ============================================================================

// FindNode 查找距离 id 最近的节点
func (d *DHT) FindNode(ctx context.Context, id types.NodeID) ([]*types.Contact, error) {
	if err := d.checkStarted(); err != nil {
		return nil, err
	}
	res, err := d.lookup(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return res.Nearest, nil
}

// CallPeer 调用对端注册的应用方法
func (d *DHT) CallPeer(ctx context.Context, addr, method string, payload []byte, opts ...servicer.CallOption) ([]byte, error) {
	if err := d.checkStarted(); err != nil {
		return nil, err
	}
	return d.svc.Call(ctx, addr, method, payload, opts...)
}

// RegisterMethod 注册应用方法
func (d *DHT) RegisterMethod(name string, capability auth.Capability, h servicer.AppHandler) error {
	return d.svc.RegisterApp(name, capability, h)
}

// ============================================================================
//                              状态
// ============================================================================

// Status 节点状态快照
type Status struct {
	NodeID        types.NodeID
	Addr          string
	Peers         int
	Buckets       int
	StoredRecords int
	CachedRecords int
}

// Status 返回当前状态
func (d *DHT) Status() Status {
	stored, cached := d.store.Len()
	return Status{
		NodeID:        d.NodeID(),
		Addr:          d.LocalAddr(),
		Peers:         d.routingTable.Size(),
		Buckets:       d.routingTable.BucketCount(),
		StoredRecords: stored,
		CachedRecords: cached,
	}
}

func (d *DHT) updateMetrics() {
	st := d.Status()
	d.metrics.SetRoutingTable(st.Peers, st.Buckets)
	d.metrics.SetRecords("storage", st.StoredRecords)
	d.metrics.SetRecords("cache", st.CachedRecords)
}

// ============================================================================
//                              后台循环
// ============================================================================

// refreshLoop 对长时间未刷新的桶执行随机查找
func (d *DHT) refreshLoop(ctx context.Context) {
	ticker := d.clk.Ticker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshBuckets(ctx)
		}
	}
}

func (d *DHT) refreshBuckets(ctx context.Context) {
	stale := d.routingTable.StaleBuckets(d.config.RefreshInterval)
	for _, idx := range stale {
		if ctx.Err() != nil {
			return
		}
		target := d.routingTable.RandomIDInBucket(idx)
		if _, err := d.lookup(ctx, target, false); err != nil && !errors.Is(err, ErrNoNodes) {
			logger.Debug("桶刷新失败", "bucket", idx, "error", err)
		}
		d.routingTable.MarkBucketRefreshed(idx)
	}
	if len(stale) > 0 {
		logger.Debug("桶刷新完成", "buckets", len(stale), "peers", d.routingTable.Size())
	}
	d.updateMetrics()
}

// sweepLoop 定期清理过期记录
func (d *DHT) sweepLoop(ctx context.Context) {
	ticker := d.clk.Ticker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.store.Sweep()
			d.updateMetrics()
		}
	}
}

// evictLoop 系统可用内存低于下限时逐出软缓存
func (d *DHT) evictLoop(ctx context.Context) {
	ticker := d.clk.Ticker(d.config.CacheEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.relieveCachePressure()
		}
	}
}

// relieveCachePressure 可用内存低于 CacheMemoryFloor 时逐出一半软缓存
//
// 条目上限 CacheSize 由 RecordStore 写入时保证。
func (d *DHT) relieveCachePressure() int {
	if d.config.CacheMemoryFloor == 0 {
		return 0
	}
	free := d.freeMemory()
	if free == 0 || free >= d.config.CacheMemoryFloor {
		return 0
	}
	_, cached := d.store.Len()
	if cached/2 == 0 {
		return 0
	}
	n := d.store.EvictCache(cached / 2)
	logger.Debug("逐出软缓存", "evicted", n, "free", free)
	return n
}

// statusLoop 定期输出状态
func (d *DHT) statusLoop(ctx context.Context) {
	ticker := d.clk.Ticker(d.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := d.Status()
			logger.Info("DHT 状态",
				"node", st.NodeID.ShortString(),
				"peers", st.Peers,
				"buckets", st.Buckets,
				"stored", st.StoredRecords,
				"cached", st.CachedRecords)
			d.updateMetrics()
		}
	}
}
