package dht

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
	"github.com/dep2p/go-meshdht/pkg/types"
)

// ============================================================================
//                           迭代查找
// ============================================================================

// 查找指标标签
const (
	lookupKindNode  = "node"
	lookupKindValue = "value"

	lookupFound     = "found"
	lookupConverged = "converged"
	lookupNotFound  = "not_found"
	lookupCancelled = "cancelled"
)

// LookupResult 迭代查找结果
type LookupResult struct {
	// Nearest 距离目标最近的节点（最多 k 个，按距离升序，不含本节点）
	Nearest []*types.Contact

	// Value 找到的值，未找到或只查节点时为 nil
	Value *Value

	// NotFound 明确回答 NOT_FOUND 的节点，按距离升序
	NotFound []*types.Contact

	// Rounds 实际执行的轮数
	Rounds int
}

// roundReply 单个节点的响应
type roundReply struct {
	contact *types.Contact
	result  *FindResult
	err     error
}

// iterativeLookup 一次迭代查找
//
// 轮次严格串行：第 N+1 轮在第 N 轮全部响应（或超时）后才开始。
// 超时与出错的节点从候选列表移除，本次查找内不再重试，但不会因此被逐出路由表。
type iterativeLookup struct {
	proto      *Protocol
	target     types.NodeID
	wantValue  bool
	alpha      int
	k          int
	maxRounds  int
	mergeGrace time.Duration

	shortlist []*types.Contact
	queried   map[types.NodeID]struct{}
	failed    map[types.NodeID]struct{}
	notFound  []*types.Contact
	value     *Value
}

func newIterativeLookup(d *DHT, target types.NodeID, wantValue bool) *iterativeLookup {
	return &iterativeLookup{
		proto:      d.proto,
		target:     target,
		wantValue:  wantValue,
		alpha:      d.config.Alpha,
		k:          d.config.BucketSize,
		maxRounds:  d.config.MaxRounds,
		mergeGrace: d.config.ValueMergeGrace,
		shortlist:  d.routingTable.NearestPeers(target, d.config.Alpha),
		queried:    make(map[types.NodeID]struct{}),
		failed:     make(map[types.NodeID]struct{}),
	}
}

// Run 执行查找；ctx 到期时返回当前最好的部分结果
func (q *iterativeLookup) Run(ctx context.Context) (*LookupResult, error) {
	if len(q.shortlist) == 0 {
		return &LookupResult{}, ErrNoNodes
	}

	rounds := 0
	for rounds < q.maxRounds {
		batch := q.nextBatch()
		if len(batch) == 0 {
			break
		}
		rounds++

		prevBest := q.shortlist[0].ID
		q.merge(q.queryRound(ctx, batch))

		if q.value != nil || ctx.Err() != nil || len(q.shortlist) == 0 {
			break
		}
		if _, bad := q.failed[prevBest]; bad {
			continue
		}
		// prevBest 仍在列表中且已查询，队首不比它近即说明本轮没有更近的节点
		if !types.Closer(q.shortlist[0].ID, prevBest, q.target) {
			break
		}
	}

	logger.Debug("迭代查找完成",
		"target", q.target.ShortString(),
		"rounds", rounds,
		"queried", len(q.queried),
		"failed", len(q.failed),
		"nearest", len(q.shortlist),
		"found", q.value != nil)

	return &LookupResult{
		Nearest:  q.shortlist,
		Value:    q.value,
		NotFound: q.notFound,
		Rounds:   rounds,
	}, nil
}

// nextBatch 取最多 alpha 个未查询的最近节点并标记为已查询
func (q *iterativeLookup) nextBatch() []*types.Contact {
	batch := make([]*types.Contact, 0, q.alpha)
	for _, c := range q.shortlist {
		if len(batch) >= q.alpha {
			break
		}
		if _, done := q.queried[c.ID]; done {
			continue
		}
		q.queried[c.ID] = struct{}{}
		batch = append(batch, c)
	}
	return batch
}

// queryRound 并发查询一批节点
//
// 查值时收到第一个值后最多再等 mergeGrace，以合并同轮其他节点返回的字典片段；
// 之后仍未返回的调用被放弃，通道有缓冲，不会阻塞。
func (q *iterativeLookup) queryRound(ctx context.Context, batch []*types.Contact) []roundReply {
	ch := make(chan roundReply, len(batch))
	var g errgroup.Group
	for _, c := range batch {
		g.Go(func() error {
			results, err := q.proto.CallFind(ctx, c, []types.NodeID{q.target})
			r := roundReply{contact: c, err: err}
			if err == nil {
				r.result = results[0]
			}
			ch <- r
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(ch)
	}()

	replies := make([]roundReply, 0, len(batch))
	var grace <-chan time.Time
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return replies
			}
			replies = append(replies, r)
			if q.wantValue && grace == nil && r.err == nil && r.result.Value != nil {
				timer := time.NewTimer(q.mergeGrace)
				defer timer.Stop()
				grace = timer.C
			}
		case <-grace:
			return replies
		case <-ctx.Done():
			return replies
		}
	}
}

// merge 合并一轮响应
func (q *iterativeLookup) merge(replies []roundReply) {
	for _, r := range replies {
		if r.err != nil {
			logger.Debug("查找请求失败", "peer", r.contact.ID.ShortString(), "error", r.err)
			q.failed[r.contact.ID] = struct{}{}
			continue
		}
		if r.result.Type == pb.ResultNotFound {
			q.notFound = append(q.notFound, r.contact)
		} else if q.wantValue {
			q.value = mergeValues(q.value, r.result.Value)
		}
		for _, c := range r.result.Nearest {
			q.add(c)
		}
	}

	kept := q.shortlist[:0]
	for _, c := range q.shortlist {
		if _, bad := q.failed[c.ID]; !bad {
			kept = append(kept, c)
		}
	}
	q.shortlist = kept
	sortContacts(q.shortlist, q.target)
	if len(q.shortlist) > q.k {
		q.shortlist = q.shortlist[:q.k]
	}
	sortContacts(q.notFound, q.target)
}

// add 加入候选列表（按 NodeID 去重，跳过已失败的节点）
func (q *iterativeLookup) add(c *types.Contact) {
	if _, bad := q.failed[c.ID]; bad {
		return
	}
	for _, x := range q.shortlist {
		if x.ID == c.ID {
			return
		}
	}
	q.shortlist = append(q.shortlist, c)
}

// ============================================================================
//                           DHT 入口
// ============================================================================

// lookup 执行迭代查找并记录指标
func (d *DHT) lookup(ctx context.Context, target types.NodeID, wantValue bool) (*LookupResult, error) {
	kind := lookupKindNode
	if wantValue {
		kind = lookupKindValue
	}

	res, err := newIterativeLookup(d, target, wantValue).Run(ctx)
	switch {
	case err != nil:
		d.metrics.ObserveLookup(kind, lookupNotFound, 0)
		return res, err
	case res.Value != nil:
		d.metrics.ObserveLookup(kind, lookupFound, res.Rounds)
	case ctx.Err() != nil:
		d.metrics.ObserveLookup(kind, lookupCancelled, res.Rounds)
	case wantValue:
		d.metrics.ObserveLookup(kind, lookupNotFound, res.Rounds)
	default:
		d.metrics.ObserveLookup(kind, lookupConverged, res.Rounds)
	}
	return res, nil
}
