package auth

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReplayCache 已见 nonce 缓存
//
// 值为 nonce 的失效时刻（由注入的时钟判定）。条目只按时间淘汰：
// 缓存中全是未失效的 nonce 时拒绝新请求，不会挤掉仍在窗口内的 nonce。
// LRU 本身不设容量，其 TTL 只负责在真实时间上回收内存。
type ReplayCache struct {
	mu    sync.Mutex
	seen  *expirable.LRU[string, time.Time]
	limit int
	ttl   time.Duration
	clk   clock.Clock
}

// NewReplayCache 创建重放缓存
//
// ttl 应覆盖时间戳可被接受的整个区间（窗口两侧），limit 为未失效条目上限。
func NewReplayCache(limit int, ttl time.Duration, clk clock.Clock) *ReplayCache {
	return &ReplayCache{
		seen:  expirable.NewLRU[string, time.Time](0, nil, ttl),
		limit: limit,
		ttl:   ttl,
		clk:   clk,
	}
}

// Seen 判断 nonce 是否仍在有效记录内
func (rc *ReplayCache) Seen(nonce []byte) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	until, ok := rc.seen.Peek(string(nonce))
	return ok && rc.clk.Now().Before(until)
}

// Record 记录 nonce
//
// nonce 未失效时返回 ErrReplayedNonce；未失效条目已达上限时返回 ErrReplayCacheFull。
func (rc *ReplayCache) Record(nonce []byte) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.clk.Now()
	if until, ok := rc.seen.Peek(string(nonce)); ok && now.Before(until) {
		return ErrReplayedNonce
	}
	if rc.seen.Len() >= rc.limit {
		rc.pruneLocked(now)
		if rc.seen.Len() >= rc.limit {
			return ErrReplayCacheFull
		}
	}
	rc.seen.Add(string(nonce), now.Add(rc.ttl))
	return nil
}

// pruneLocked 从最早写入的条目开始删除已失效的 nonce
//
// 写入顺序即失效顺序，遇到第一个未失效的条目即可停止。
func (rc *ReplayCache) pruneLocked(now time.Time) {
	for _, k := range rc.seen.Keys() {
		until, ok := rc.seen.Peek(k)
		if ok && now.Before(until) {
			return
		}
		rc.seen.Remove(k)
	}
}

// Len 返回当前条目数（含按时钟已失效、尚未清理的条目）
func (rc *ReplayCache) Len() int {
	return rc.seen.Len()
}
