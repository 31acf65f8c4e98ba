package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshdht/pkg/types"
)

// ============================================================================
//                              插入结果
// ============================================================================

// Outcome AddOrRefresh 的结果
type Outcome int

const (
	// OutcomeIgnored 未处理（本节点自身）
	OutcomeIgnored Outcome = iota
	// OutcomeAdded 新加入桶
	OutcomeAdded
	// OutcomeRefreshed 已存在，移到最近活跃位置
	OutcomeRefreshed
	// OutcomeCached 桶已满且不可分裂，进入替换缓存
	OutcomeCached
)

// String 返回结果名称
func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeCached:
		return "cached"
	default:
		return "ignored"
	}
}

// ============================================================================
//                              K 桶
// ============================================================================

// kBucket K 桶
//
// contacts 按最近活跃排序：下标 0 为最久未见（驱逐候选），末尾为最近见到。
// replacements 同样末尾为最近见到，容量与桶相同。
type kBucket struct {
	contacts     []*types.Contact
	replacements []*types.Contact

	// pending 正在等待 ping 结果的驱逐候选
	pending map[types.NodeID]struct{}

	lastRefresh time.Time
}

func newKBucket(now time.Time) *kBucket {
	return &kBucket{
		pending:     make(map[types.NodeID]struct{}),
		lastRefresh: now,
	}
}

func indexOf(list []*types.Contact, id types.NodeID) int {
	for i, c := range list {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []*types.Contact, i int) []*types.Contact {
	return append(list[:i], list[i+1:]...)
}

// touch 将下标 i 的节点移到末尾
func (b *kBucket) touch(i int, addr string, now time.Time) {
	c := b.contacts[i]
	if addr != "" {
		c.Addr = addr
	}
	c.LastSeen = now
	b.contacts = append(removeAt(b.contacts, i), c)
}

// addReplacement 加入替换缓存，超出容量时丢弃最旧的
func (b *kBucket) addReplacement(c *types.Contact, k int) {
	if i := indexOf(b.replacements, c.ID); i >= 0 {
		b.replacements = removeAt(b.replacements, i)
	}
	b.replacements = append(b.replacements, c)
	if len(b.replacements) > k {
		b.replacements = b.replacements[len(b.replacements)-k:]
	}
}

// promote 用最近的替换节点补位
func (b *kBucket) promote() {
	if n := len(b.replacements); n > 0 {
		b.contacts = append(b.contacts, b.replacements[n-1])
		b.replacements = b.replacements[:n-1]
	}
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable 路由表
//
// 桶 i（最后一个除外）保存与本节点共同前缀长度恰为 i 的节点，
// 最后一个桶保存共同前缀长度不小于其下标的节点，即包含本节点的范围。
// 只有最后一个桶满时可以分裂，因此桶按 ID 空间划分且互不重叠。
//
// 所有修改在同一把锁内完成，锁内不做网络 I/O。
type RoutingTable struct {
	localID types.NodeID
	k       int
	clk     clock.Clock

	mu      sync.RWMutex
	buckets []*kBucket
}

// NewRoutingTable 创建路由表
func NewRoutingTable(localID types.NodeID, k int, clk clock.Clock) *RoutingTable {
	if k <= 0 {
		k = DefaultBucketSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RoutingTable{
		localID: localID,
		k:       k,
		clk:     clk,
		buckets: []*kBucket{newKBucket(clk.Now())},
	}
}

// LocalID 返回本节点 ID
func (rt *RoutingTable) LocalID() types.NodeID {
	return rt.localID
}

// bucketIndexLocked 返回 id 所属桶下标
func (rt *RoutingTable) bucketIndexLocked(id types.NodeID) int {
	cpl := types.CommonPrefixLen(rt.localID, id)
	if last := len(rt.buckets) - 1; cpl > last {
		return last
	}
	return cpl
}

// BucketIndex 返回 id 所属桶下标
func (rt *RoutingTable) BucketIndex(id types.NodeID) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.bucketIndexLocked(id)
}

// splitLocked 分裂最后一个桶
func (rt *RoutingTable) splitLocked() {
	last := len(rt.buckets) - 1
	old := rt.buckets[last]
	next := newKBucket(old.lastRefresh)
	rt.buckets = append(rt.buckets, next)

	keep := old.contacts[:0:0]
	for _, c := range old.contacts {
		if types.CommonPrefixLen(rt.localID, c.ID) > last {
			next.contacts = append(next.contacts, c)
		} else {
			keep = append(keep, c)
		}
	}
	old.contacts = keep

	keepRepl := old.replacements[:0:0]
	for _, c := range old.replacements {
		if types.CommonPrefixLen(rt.localID, c.ID) > last {
			next.replacements = append(next.replacements, c)
		} else {
			keepRepl = append(keepRepl, c)
		}
	}
	old.replacements = keepRepl

	for id := range old.pending {
		if types.CommonPrefixLen(rt.localID, id) > last {
			delete(old.pending, id)
			next.pending[id] = struct{}{}
		}
	}
}

// AddOrRefresh 添加或刷新节点
//
// 返回 OutcomeCached 时，第二个返回值为需要 ping 的最久未见节点；
// 若该节点已有 ping 在进行中则为 nil。调用方应在锁外 ping 它，
// 再通过 ResolveCandidate 报告结果。
func (rt *RoutingTable) AddOrRefresh(c *types.Contact) (Outcome, *types.Contact) {
	if c == nil || c.ID == rt.localID || c.ID.IsEmpty() {
		return OutcomeIgnored, nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.clk.Now()
	for {
		idx := rt.bucketIndexLocked(c.ID)
		b := rt.buckets[idx]

		if i := indexOf(b.contacts, c.ID); i >= 0 {
			b.touch(i, c.Addr, now)
			b.lastRefresh = now
			return OutcomeRefreshed, nil
		}

		if len(b.contacts) < rt.k {
			if i := indexOf(b.replacements, c.ID); i >= 0 {
				b.replacements = removeAt(b.replacements, i)
			}
			b.contacts = append(b.contacts, &types.Contact{ID: c.ID, Addr: c.Addr, LastSeen: now})
			b.lastRefresh = now
			return OutcomeAdded, nil
		}

		if idx == len(rt.buckets)-1 && len(rt.buckets) < types.NodeIDBits {
			rt.splitLocked()
			continue
		}

		b.addReplacement(&types.Contact{ID: c.ID, Addr: c.Addr, LastSeen: now}, rt.k)
		candidate := b.contacts[0]
		if _, busy := b.pending[candidate.ID]; busy {
			return OutcomeCached, nil
		}
		b.pending[candidate.ID] = struct{}{}
		return OutcomeCached, candidate.Clone()
	}
}

// ResolveCandidate 报告驱逐候选的 ping 结果
//
// alive 为 true 时刷新该节点；否则驱逐它并用最近的替换节点补位。
func (rt *RoutingTable) ResolveCandidate(id types.NodeID, alive bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[rt.bucketIndexLocked(id)]
	delete(b.pending, id)

	i := indexOf(b.contacts, id)
	if i < 0 {
		return
	}
	if alive {
		b.touch(i, "", rt.clk.Now())
		return
	}
	b.contacts = removeAt(b.contacts, i)
	b.promote()
	logger.Debug("驱逐无响应节点", "peer", id.ShortString(), "bucket", rt.bucketIndexLocked(id))
}

// Remove 移除节点，桶内空位由替换缓存补位
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[rt.bucketIndexLocked(id)]
	delete(b.pending, id)
	if i := indexOf(b.contacts, id); i >= 0 {
		b.contacts = removeAt(b.contacts, i)
		b.promote()
		return true
	}
	if i := indexOf(b.replacements, id); i >= 0 {
		b.replacements = removeAt(b.replacements, i)
		return true
	}
	return false
}

// Get 获取节点
func (rt *RoutingTable) Get(id types.NodeID) (*types.Contact, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	b := rt.buckets[rt.bucketIndexLocked(id)]
	if i := indexOf(b.contacts, id); i >= 0 {
		return b.contacts[i].Clone(), true
	}
	return nil, false
}

// NearestPeers 返回距 target 最近的 n 个节点，按距离升序
//
// 距离相同时按原始 ID 排序，结果可复现。exclude 中的节点不会返回。
func (rt *RoutingTable) NearestPeers(target types.NodeID, n int, exclude ...types.NodeID) []*types.Contact {
	rt.mu.RLock()
	all := make([]*types.Contact, 0, rt.sizeLocked())
	for _, b := range rt.buckets {
		for _, c := range b.contacts {
			if containsID(exclude, c.ID) {
				continue
			}
			all = append(all, c.Clone())
		}
	}
	rt.mu.RUnlock()

	sortContacts(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Contacts 返回全部节点
func (rt *RoutingTable) Contacts() []*types.Contact {
	return rt.NearestPeers(rt.localID, rt.Size())
}

// Replacements 返回桶 idx 的替换缓存（最近见到的在后）
func (rt *RoutingTable) Replacements(idx int) []*types.Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if idx < 0 || idx >= len(rt.buckets) {
		return nil
	}
	out := make([]*types.Contact, 0, len(rt.buckets[idx].replacements))
	for _, c := range rt.buckets[idx].replacements {
		out = append(out, c.Clone())
	}
	return out
}

// BucketContacts 返回桶 idx 中的节点（最久未见的在前）
func (rt *RoutingTable) BucketContacts(idx int) []*types.Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if idx < 0 || idx >= len(rt.buckets) {
		return nil
	}
	out := make([]*types.Contact, 0, len(rt.buckets[idx].contacts))
	for _, c := range rt.buckets[idx].contacts {
		out = append(out, c.Clone())
	}
	return out
}

// RandomIDInBucket 生成落在桶 idx 范围内的随机 ID，用于刷新查找
func (rt *RoutingTable) RandomIDInBucket(idx int) types.NodeID {
	rt.mu.RLock()
	last := len(rt.buckets) - 1
	rt.mu.RUnlock()
	if idx > last {
		idx = last
	}
	if idx < 0 {
		idx = 0
	}

	id := types.RandomNodeID()
	for bit := 0; bit < idx; bit++ {
		setBit(&id, bit, getBit(rt.localID, bit))
	}
	if idx < last {
		setBit(&id, idx, !getBit(rt.localID, idx))
	}
	return id
}

// StaleBuckets 返回超过 maxAge 未刷新的桶下标
func (rt *RoutingTable) StaleBuckets(maxAge time.Duration) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	now := rt.clk.Now()
	var indices []int
	for i, b := range rt.buckets {
		if now.Sub(b.lastRefresh) >= maxAge {
			indices = append(indices, i)
		}
	}
	return indices
}

// MarkBucketRefreshed 标记桶已刷新
func (rt *RoutingTable) MarkBucketRefreshed(idx int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if idx >= 0 && idx < len(rt.buckets) {
		rt.buckets[idx].lastRefresh = rt.clk.Now()
	}
}

// Size 返回路由表中的节点总数
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.sizeLocked()
}

func (rt *RoutingTable) sizeLocked() int {
	total := 0
	for _, b := range rt.buckets {
		total += len(b.contacts)
	}
	return total
}

// BucketCount 返回桶数量
func (rt *RoutingTable) BucketCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets)
}

// ============================================================================
//                              辅助函数
// ============================================================================

func sortContacts(cs []*types.Contact, target types.NodeID) {
	sort.Slice(cs, func(i, j int) bool {
		return types.Closer(cs[i].ID, cs[j].ID, target)
	})
}

func containsID(ids []types.NodeID, id types.NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func getBit(id types.NodeID, bit int) bool {
	return id[bit/8]&(0x80>>(bit%8)) != 0
}

func setBit(id *types.NodeID, bit int, v bool) {
	mask := byte(0x80 >> (bit % 8))
	if v {
		id[bit/8] |= mask
	} else {
		id[bit/8] &^= mask
	}
}
