package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	buckets map[K][]entry[V] // oldest first, newest last
}

// ExpiringCache keeps, for every key, a bounded stack of timestamped values.
// Values live for ttl after insertion and each key holds at most maxLen of them.
type ExpiringCache[K comparable, V any] struct {
	ttl    time.Duration
	maxLen int
	now    func() time.Time
	hash   func(K) uint64
	shards []*shard[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

// New creates a cache whose entries expire after ttl and whose buckets hold at most maxLen entries.
func New[K comparable, V any](ttl time.Duration, maxLen int, opts ...Option[K]) *ExpiringCache[K, V] {
	o := options[K]{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards < 1 {
		o.shards = 1
	}
	if o.hash == nil {
		o.hash = defaultHasher[K]()
	}
	if maxLen < 1 {
		maxLen = 1
	}

	c := &ExpiringCache[K, V]{
		ttl:    ttl,
		maxLen: maxLen,
		now:    o.now,
		hash:   o.hash,
		shards: make([]*shard[K, V], o.shards),
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{buckets: make(map[K][]entry[V])}
	}
	return c
}

// TTL returns the lifetime of an entry.
func (c *ExpiringCache[K, V]) TTL() time.Duration { return c.ttl }

// MaxLen returns the bucket depth.
func (c *ExpiringCache[K, V]) MaxLen() int { return c.maxLen }

func (c *ExpiringCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hash(key)%uint64(len(c.shards))]
}

func (c *ExpiringCache[K, V]) live(e entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) < c.ttl
}

// Insert appends value to key's bucket. When the bucket grows past maxLen the oldest
// entries are dropped.
func (c *ExpiringCache[K, V]) Insert(key K, value V) {
	now := c.now()
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	b := append(s.buckets[key], entry[V]{value: value, insertedAt: now})
	if over := len(b) - c.maxLen; over > 0 {
		b = dropFront(b, over)
		c.evictions.Add(uint64(over))
	}
	s.buckets[key] = b
	c.inserts.Add(1)
}

// Pop removes and returns the newest live value for key. Expired entries found on the
// way are discarded. Returns false when nothing live is left.
func (c *ExpiringCache[K, V]) Pop(key K) (V, bool) {
	now := c.now()
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	for i := len(b) - 1; i >= 0; i-- {
		e := b[i]
		b[i] = entry[V]{}
		if c.live(e, now) {
			s.store(key, b[:i])
			c.hits.Add(1)
			return e.value, true
		}
		c.expired.Add(1)
	}
	delete(s.buckets, key)
	c.misses.Add(1)

	var zero V
	return zero, false
}

// LenFor counts the live entries for key without evicting anything.
func (c *ExpiringCache[K, V]) LenFor(key K) int {
	now := c.now()
	s := c.shardFor(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.countLive(s.buckets[key], now)
}

// TotalLen counts live entries across all keys.
func (c *ExpiringCache[K, V]) TotalLen() int {
	now := c.now()
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, b := range s.buckets {
			total += c.countLive(b, now)
		}
		s.mu.RUnlock()
	}
	return total
}

// Keys returns every key that currently has at least one live entry.
func (c *ExpiringCache[K, V]) Keys() []K {
	now := c.now()
	var keys []K
	for _, s := range c.shards {
		s.mu.RLock()
		for k, b := range s.buckets {
			if c.countLive(b, now) > 0 {
				keys = append(keys, k)
			}
		}
		s.mu.RUnlock()
	}
	return keys
}

// CleanExpired strips expired entries from every bucket and reports how many were
// removed and how many remain.
func (c *ExpiringCache[K, V]) CleanExpired() (removed, remaining int) {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, b := range s.buckets {
			kept := b[:0]
			for _, e := range b {
				if c.live(e, now) {
					kept = append(kept, e)
				}
			}
			clear(b[len(kept):])
			removed += len(b) - len(kept)
			remaining += len(kept)
			s.store(k, kept)
		}
		s.mu.Unlock()
	}
	c.expired.Add(uint64(removed))
	return removed, remaining
}

// Stats returns cumulative counters plus the current live item count.
func (c *ExpiringCache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Inserts:   c.inserts.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Items:     c.TotalLen(),
	}
}

func (c *ExpiringCache[K, V]) countLive(b []entry[V], now time.Time) int {
	n := 0
	for _, e := range b {
		if c.live(e, now) {
			n++
		}
	}
	return n
}

// store writes b back, deleting the key once its bucket is empty. Caller holds s.mu.
func (s *shard[K, V]) store(key K, b []entry[V]) {
	if len(b) == 0 {
		delete(s.buckets, key)
		return
	}
	s.buckets[key] = b
}

// dropFront removes the first n entries in place and zeroes the vacated tail so the
// dropped values can be collected.
func dropFront[V any](b []entry[V], n int) []entry[V] {
	kept := copy(b, b[n:])
	clear(b[kept:])
	return b[:kept]
}
