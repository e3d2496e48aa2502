// Package cache is the Distributed Cache Core (C7): a process-wide keyed
// cache with TTL-bounded freshness, single-flight refill, and
// stale-while-revalidate background refresh. The LRU/TTL entry shape
// (map + per-entry expiresAt) is grounded on ai/cache/lru.go; the hit/miss
// atomic counters and RPS-by-snapshot bookkeeping are grounded on
// ai/cache/semantic.go's SemanticCacheStats. Lock-free fast-path reads use
// sync.Map plus an atomic.Pointer per entry so a reader never contends
// with a concurrent refresh; single-flight refill uses
// golang.org/x/sync/singleflight (the module the teacher already imports
// for its semaphore subpackage). golang.org/x/time/rate is a direct
// dependency of the teacher's own go.mod; it paces background refresh the
// way matsen-bipartite/internal/asta/client.go paces its outbound calls
// with rate.NewLimiter(rate.Limit(n), 1).
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xlab2016/space-db-public/internal/logging"
	"github.com/xlab2016/space-db-public/internal/metrics"
)

const defaultCapacity = 10000

// Stats is the result of putStats()/getStats(): hit count is cumulative,
// rps is measured since the previous call to the same stats method.
type Stats struct {
	HitsCount int64
	RPS       float64
}

type entryData[V any] struct {
	value     V
	expiresAt time.Time
}

type entry[V any] struct {
	data       atomic.Pointer[entryData[V]]
	refreshing atomic.Bool
	order      atomic.Pointer[list.Element]
}

func (e *entry[V]) fresh(now time.Time) (V, bool) {
	d := e.data.Load()
	if d == nil || !d.expiresAt.After(now) {
		var zero V
		return zero, false
	}
	return d.value, true
}

// opCounters tracks hits and an operation count for a single stats method
// (put or get), so each can report its own RPS independent of the other.
type opCounters struct {
	hits           atomic.Int64
	ops            atomic.Int64
	lastSnapshotAt atomic.Int64
	lastSnapshotOp atomic.Int64
}

func (c *opCounters) record(hit bool) {
	c.ops.Add(1)
	if hit {
		c.hits.Add(1)
	}
}

// clockStart anchors snapshot times so elapsed durations come from the
// monotonic clock reading of time.Now rather than wall-clock nanoseconds.
var clockStart = time.Now()

func (c *opCounters) snapshot(now time.Time) Stats {
	nowNano := int64(now.Sub(clockStart))
	prevNano := c.lastSnapshotAt.Swap(nowNano)
	curOps := c.ops.Load()
	prevOps := c.lastSnapshotOp.Swap(curOps)

	stats := Stats{HitsCount: c.hits.Load()}
	if prevNano == 0 {
		return stats
	}
	elapsed := time.Duration(nowNano - prevNano)
	if elapsed <= 0 {
		return stats
	}
	stats.RPS = float64(curOps-prevOps) / elapsed.Seconds()
	return stats
}

// Fetch produces the value to store for a key on a cache miss or refresh.
type Fetch[V any] func(ctx context.Context) (V, error)

// Cache is a generic keyed cache implementing C7's freshness and
// single-flight contract. Capacity bounds the number of live entries, with
// least-recently-filled eviction (ai/cache/lru.go's container/list
// ordering, kept here as a write-path-only concern: promoting an entry on
// every Get would require a lock on the fast path, which the concurrency
// contract forbids, so order tracks refill recency rather than read
// recency).
type Cache[K comparable, V any] struct {
	entries sync.Map // K -> *entry[V]
	sf      singleflight.Group

	orderMu  sync.Mutex
	order    *list.List
	size     atomic.Int64
	capacity int

	refreshLimiter *rate.Limiter
	log            *logging.Logger

	putCounters opCounters
	getCounters opCounters

	metrics *metrics.Registry
}

// New builds a Cache bounded to capacity live entries (<= 0 defaults to
// 10000). refreshRPS bounds how many background stale-while-revalidate
// refreshes may be spawned per second across all keys; refreshRPS <= 0
// means unbounded.
func New[K comparable, V any](capacity int, refreshRPS float64) *Cache[K, V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c := &Cache[K, V]{
		order:    list.New(),
		capacity: capacity,
		log:      logging.Default().WithComponent("cache"),
	}
	if refreshRPS > 0 {
		c.refreshLimiter = rate.NewLimiter(rate.Limit(refreshRPS), 1)
	}
	return c
}

// WithMetrics attaches a metrics.Registry that Get and Put report
// hit/miss outcomes to. Optional; leaving it unset disables recording.
func (c *Cache[K, V]) WithMetrics(m *metrics.Registry) *Cache[K, V] {
	c.metrics = m
	return c
}

func (c *Cache[K, V]) loadOrCreate(key K) *entry[V] {
	if raw, ok := c.entries.Load(key); ok {
		return raw.(*entry[V])
	}
	actual, _ := c.entries.LoadOrStore(key, &entry[V]{})
	return actual.(*entry[V])
}

// touchOrder records key as most-recently-filled, evicting the least
// recently filled entry if capacity is now exceeded.
func (c *Cache[K, V]) touchOrder(key K, e *entry[V]) {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	if el := e.order.Load(); el != nil {
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(key)
	e.order.Store(el)
	c.size.Add(1)

	for c.size.Load() > int64(c.capacity) {
		back := c.order.Back()
		if back == nil {
			return
		}
		evictedKey := back.Value.(K)
		c.order.Remove(back)
		c.entries.Delete(evictedKey)
		c.size.Add(-1)
	}
}

// Get returns the entry's value if fresh; it never triggers a refill.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	raw, ok := c.entries.Load(key)
	if !ok {
		c.getCounters.record(false)
		if c.metrics != nil {
			c.metrics.RecordCacheOp("get", false)
		}
		var zero V
		return zero, false
	}
	value, fresh := raw.(*entry[V]).fresh(time.Now())
	c.getCounters.record(fresh)
	if c.metrics != nil {
		c.metrics.RecordCacheOp("get", fresh)
	}
	return value, fresh
}

// Put implements the C7 put(key, ttl, fetch, asyncGet) operation.
func (c *Cache[K, V]) Put(ctx context.Context, key K, ttl time.Duration, fetch Fetch[V], asyncGet bool) (V, error) {
	e := c.loadOrCreate(key)
	now := time.Now()

	if value, fresh := e.fresh(now); fresh {
		c.putCounters.record(true)
		if c.metrics != nil {
			c.metrics.RecordCacheOp("put", true)
		}
		return value, nil
	}

	// Stale-while-revalidate: an entry exists but is expired. Return it
	// immediately and refresh in the background, rate-limited and
	// single-flighted per key.
	if d := e.data.Load(); d != nil && asyncGet {
		c.maybeSpawnRefresh(key, e, ttl, fetch)
		c.putCounters.record(true)
		if c.metrics != nil {
			c.metrics.RecordCacheOp("put", true)
		}
		return d.value, nil
	}

	// Slow path: no entry, or stale with asyncGet=false. Single-flight the
	// fetch per key so concurrent callers share one in-flight call.
	sfKey := fmt.Sprintf("%v", key)
	result, err, _ := c.sf.Do(sfKey, func() (any, error) {
		if value, fresh := e.fresh(time.Now()); fresh {
			return value, nil
		}
		value, ferr := fetch(ctx)
		if ferr != nil {
			return value, ferr
		}
		e.data.Store(&entryData[V]{value: value, expiresAt: time.Now().Add(ttl)})
		c.touchOrder(key, e)
		return value, nil
	})

	c.putCounters.record(false)
	if c.metrics != nil {
		c.metrics.RecordCacheOp("put", false)
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// maybeSpawnRefresh starts exactly one background fetch for key if none is
// already in flight and the refresh limiter (if any) allows it; when the
// limiter denies it, no fetch starts for this call. A failed refresh clears
// the refreshing flag so the next stale caller retries.
func (c *Cache[K, V]) maybeSpawnRefresh(key K, e *entry[V], ttl time.Duration, fetch Fetch[V]) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	if c.refreshLimiter != nil && !c.refreshLimiter.Allow() {
		e.refreshing.Store(false)
		return
	}

	go func() {
		defer e.refreshing.Store(false)

		value, err := fetch(context.Background())
		if err != nil {
			c.log.Warn("background refresh failed", "error", err.Error())
			return
		}
		e.data.Store(&entryData[V]{value: value, expiresAt: time.Now().Add(ttl)})
		c.touchOrder(key, e)
	}()
}

// Clear drops all entries.
func (c *Cache[K, V]) Clear() {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})

	c.orderMu.Lock()
	c.order.Init()
	c.size.Store(0)
	c.orderMu.Unlock()
}

// PutStats returns cumulative put hits and the put RPS since the previous
// PutStats call.
func (c *Cache[K, V]) PutStats() Stats {
	return c.putCounters.snapshot(time.Now())
}

// GetStats returns cumulative get hits and the get RPS since the previous
// GetStats call.
func (c *Cache[K, V]) GetStats() Stats {
	return c.getCounters.snapshot(time.Now())
}
