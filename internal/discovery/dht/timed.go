package dht

import (
	"container/heap"

	"github.com/dep2p/go-meshdht/pkg/types"
)

// storedItem 存储中的一条记录
type storedItem struct {
	regular []byte
	dict    *Dictionary
	exp     types.DHTTime
}

// expEntry 过期堆中的条目；exp 与当前记录不一致时视为失效
type expEntry struct {
	key types.NodeID
	exp types.DHTTime
}

type expHeap []expEntry

func (h expHeap) Len() int           { return len(h) }
func (h expHeap) Less(i, j int) bool { return h[i].exp < h[j].exp }
func (h expHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expHeap) Push(x any)        { *h = append(*h, x.(expEntry)) }
func (h *expHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// timedStorage 按过期时间索引的记录表
//
// maxSize 为 0 表示不限。evict 为 true 时超出容量逐出最早过期的记录（软缓存），
// 否则拒绝新 key（正常存储不提前逐出）。非并发安全。
type timedStorage struct {
	items   map[types.NodeID]*storedItem
	expiry  expHeap
	maxSize int
	evict   bool
}

func newTimedStorage(maxSize int, evict bool) *timedStorage {
	return &timedStorage{
		items:   make(map[types.NodeID]*storedItem),
		maxSize: maxSize,
		evict:   evict,
	}
}

func (ts *timedStorage) len() int {
	return len(ts.items)
}

// get 返回未过期的记录
func (ts *timedStorage) get(key types.NodeID, now types.DHTTime) *storedItem {
	item := ts.items[key]
	if item == nil || item.exp < now {
		return nil
	}
	return item
}

func (ts *timedStorage) set(key types.NodeID, item *storedItem) {
	ts.items[key] = item
	ts.track(key, item.exp)
}

func (ts *timedStorage) track(key types.NodeID, exp types.DHTTime) {
	heap.Push(&ts.expiry, expEntry{key: key, exp: exp})
	if len(ts.expiry) > 2*len(ts.items)+64 {
		ts.compact()
	}
}

// compact 丢弃失效的堆条目
func (ts *timedStorage) compact() {
	live := ts.expiry[:0]
	for _, e := range ts.expiry {
		if item := ts.items[e.key]; item != nil && item.exp == e.exp {
			live = append(live, e)
		}
	}
	ts.expiry = live
	heap.Init(&ts.expiry)
}

func (ts *timedStorage) delete(key types.NodeID) {
	delete(ts.items, key)
}

// popEarliest 移除最早过期的记录
func (ts *timedStorage) popEarliest() (types.NodeID, bool) {
	for ts.expiry.Len() > 0 {
		e := heap.Pop(&ts.expiry).(expEntry)
		if item := ts.items[e.key]; item != nil && item.exp == e.exp {
			delete(ts.items, e.key)
			return e.key, true
		}
	}
	return types.NodeID{}, false
}

// removeExpired 移除所有整体过期的记录
func (ts *timedStorage) removeExpired(now types.DHTTime) []types.NodeID {
	var removed []types.NodeID
	for ts.expiry.Len() > 0 && ts.expiry[0].exp < now {
		e := heap.Pop(&ts.expiry).(expEntry)
		if item := ts.items[e.key]; item != nil && item.exp == e.exp {
			delete(ts.items, e.key)
			removed = append(removed, e.key)
		}
	}
	return removed
}

// admit 新 key 是否可以写入
func (ts *timedStorage) admit(key types.NodeID) bool {
	if ts.maxSize <= 0 || ts.evict {
		return true
	}
	if _, exists := ts.items[key]; exists {
		return true
	}
	return len(ts.items) < ts.maxSize
}

// trim 超出容量时逐出最早过期的记录
func (ts *timedStorage) trim() {
	for ts.evict && ts.maxSize > 0 && len(ts.items) > ts.maxSize {
		if _, ok := ts.popEarliest(); !ok {
			return
		}
	}
}

// storeRegular 写入普通记录，仅当过期时间严格更大时替换
func (ts *timedStorage) storeRegular(key types.NodeID, value []byte, exp, now types.DHTTime) bool {
	if old := ts.get(key, now); old != nil && old.exp >= exp {
		return false
	}
	if !ts.admit(key) {
		return false
	}
	ts.set(key, &storedItem{regular: value, exp: exp})
	ts.trim()
	return true
}

// storeSubkey 写入字典子键
//
// 已有普通记录时，只有过期时间严格更大才会以新字典覆盖；
// 已有字典时，子键独立比较，不影响其他子键。
func (ts *timedStorage) storeSubkey(key types.NodeID, subkey, value []byte, exp, now types.DHTTime) bool {
	old := ts.get(key, now)
	if old != nil && old.dict != nil {
		if !old.dict.Store(subkey, value, exp) {
			return false
		}
		if latest := old.dict.LatestExpiration(); latest > old.exp {
			old.exp = latest
			ts.track(key, latest)
		}
		return true
	}

	if old != nil && old.exp >= exp {
		return false
	}
	if !ts.admit(key) {
		return false
	}
	d := NewDictionary()
	d.Store(subkey, value, exp)
	ts.set(key, &storedItem{dict: d, exp: exp})
	ts.trim()
	return true
}

// pruneDictionaries 移除字典中已过期的子键，返回被修改的 key
func (ts *timedStorage) pruneDictionaries(now types.DHTTime) (changed []types.NodeID, removed int) {
	for key, item := range ts.items {
		if item.dict == nil {
			continue
		}
		n := item.dict.prune(now)
		if n == 0 {
			continue
		}
		removed += n
		changed = append(changed, key)
		if item.dict.Len() == 0 {
			delete(ts.items, key)
		}
	}
	return changed, removed
}
