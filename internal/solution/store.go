// Package solution tracks the answer for every issued challenge until it is
// verified, exhausted, or expires.
package solution

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const defaultShards = 16

// Pending is the server-side record of an issued challenge.
type Pending struct {
	Solution  float64 `json:"solution"`   // normalized x offset in [0,1)
	ExpiresAt int64   `json:"expires_at"` // unix seconds
	Attempts  uint32  `json:"attempts"`
}

// Expired reports whether the record is past its deadline at now (unix seconds).
func (p Pending) Expired(now int64) bool {
	return now >= p.ExpiresAt
}

type shard struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// Store is a concurrent map from challenge id to Pending, striped across shards.
type Store struct {
	shards []*shard
}

// NewStore creates a store with n shards. n < 1 selects the default.
func NewStore(n int) *Store {
	if n < 1 {
		n = defaultShards
	}
	s := &Store{shards: make([]*shard, n)}
	for i := range s.shards {
		s.shards[i] = &shard{pending: make(map[string]*Pending)}
	}
	return s
}

// NewID returns a fresh random challenge id.
func NewID() string {
	return uuid.NewString()
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Put records the answer for id with zero attempts, replacing any previous record.
func (s *Store) Put(id string, solution float64, expiresAt int64) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sh.pending[id] = &Pending{Solution: solution, ExpiresAt: expiresAt}
	sh.mu.Unlock()
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Pending, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// IncrementAttempts bumps the attempt counter for id and returns the new value.
// Concurrent callers each observe a distinct count.
func (s *Store) IncrementAttempts(id string) (uint32, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.pending[id]
	if !ok {
		return 0, false
	}
	p.Attempts++
	return p.Attempts, true
}

// Remove deletes the record for id and returns what was stored.
func (s *Store) Remove(id string) (Pending, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.pending[id]
	if !ok {
		return Pending{}, false
	}
	delete(sh.pending, id)
	return *p, true
}

// Len returns the number of pending challenges.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.pending)
		sh.mu.Unlock()
	}
	return n
}

// RemoveExpired drops every record whose deadline has passed and returns how many went.
func (s *Store) RemoveExpired(now int64) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, p := range sh.pending {
			if p.Expired(now) {
				delete(sh.pending, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
