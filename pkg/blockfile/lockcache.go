package blockfile

import (
	"container/list"
	"sync"

	"github.com/txbtree/txbtree/pkg/metrics"
	"github.com/txbtree/txbtree/pkg/txnlock"
)

// lockCache bounds the number of per-block TxnLocks kept warm in memory.
// Entries are tracked in least-recently-touched order; eviction only ever
// removes an entry whose Lock reports Idle(), so a block some transaction
// still has state in is never silently dropped even if the cache is over
// capacity — it simply grows until that transaction finishes.
type lockCache[B Data[B]] struct {
	mu       sync.Mutex
	maxSize  int
	metrics  *metrics.Registry
	entries  map[BlockID]*list.Element
	order    *list.List // front = least recently touched
}

type cacheEntry[B Data[B]] struct {
	id   BlockID
	lock *txnlock.Lock[B]
}

func newLockCache[B Data[B]](maxSize int, reg *metrics.Registry) *lockCache[B] {
	return &lockCache[B]{
		maxSize: maxSize,
		metrics: reg,
		entries: make(map[BlockID]*list.Element),
		order:   list.New(),
	}
}

// getOrCreate returns id's Lock, creating it via create() on a miss.
func (c *lockCache[B]) getOrCreate(id BlockID, create func() *txnlock.Lock[B]) *txnlock.Lock[B] {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.order.MoveToBack(el)
		c.mu.Unlock()
		c.metrics.BlockCacheHits.Inc()
		return el.Value.(*cacheEntry[B]).lock
	}
	lock := create()
	el := c.order.PushBack(&cacheEntry[B]{id: id, lock: lock})
	c.entries[id] = el
	c.metrics.BlockCacheSize.Set(float64(len(c.entries)))
	c.mu.Unlock()

	c.metrics.BlockCacheMisses.Inc()
	c.evictOverCapacity()
	return lock
}

// peek returns id's Lock if currently cached, without creating one.
func (c *lockCache[B]) peek(id BlockID) (*txnlock.Lock[B], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry[B]).lock, true
}

// evictIdle drops id from the cache if present and idle. Called after a
// BlockID leaves the listing so its lock doesn't linger forever.
func (c *lockCache[B]) evictIdle(id BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return
	}
	if !el.Value.(*cacheEntry[B]).lock.Idle() {
		return
	}
	c.order.Remove(el)
	delete(c.entries, id)
	c.metrics.BlockCacheEvicted.Inc()
	c.metrics.BlockCacheSize.Set(float64(len(c.entries)))
}

// evictOverCapacity walks from the least-recently-touched end, evicting
// idle entries until the cache is back within maxSize or every entry has
// been examined once.
func (c *lockCache[B]) evictOverCapacity() {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) <= c.maxSize {
		return
	}
	examined := 0
	el := c.order.Front()
	for el != nil && len(c.entries) > c.maxSize && examined < c.order.Len() {
		next := el.Next()
		entry := el.Value.(*cacheEntry[B])
		if entry.lock.Idle() {
			c.order.Remove(el)
			delete(c.entries, entry.id)
			c.metrics.BlockCacheEvicted.Inc()
		}
		examined++
		el = next
	}
	c.metrics.BlockCacheSize.Set(float64(len(c.entries)))
}
