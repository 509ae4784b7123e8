// Package cache holds pre-built values in small per-key stacks that expire after a fixed TTL.
//
// Keys are spread across shards, each guarded by its own mutex, so writers working on
// different keys rarely contend. Expiry is lazy: entries are checked when read or swept,
// never on a timer of their own.
package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when WithShards is not given.
const DefaultShards = 16

// Stats represents cache statistics.
type Stats struct {
	Hits      uint64 `json:"hits"`      // Pops that returned a live value
	Misses    uint64 `json:"misses"`    // Pops that found nothing live
	Inserts   uint64 `json:"inserts"`   // Total inserts
	Evictions uint64 `json:"evictions"` // Entries dropped because a bucket overflowed
	Expired   uint64 `json:"expired"`   // Entries discarded by pop or sweep after their TTL
	Items     int    `json:"items"`     // Current number of live entries
}

// Option configures an ExpiringCache.
type Option[K comparable] func(*options[K])

type options[K comparable] struct {
	shards int
	hash   func(K) uint64
	now    func() time.Time
}

// WithShards sets the number of lock stripes.
func WithShards[K comparable](n int) Option[K] {
	return func(o *options[K]) { o.shards = n }
}

// WithHasher overrides how keys are mapped to shards.
func WithHasher[K comparable](hash func(K) uint64) Option[K] {
	return func(o *options[K]) { o.hash = hash }
}

// WithClock overrides the time source, mostly for tests.
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(o *options[K]) { o.now = now }
}

// defaultHasher picks a hash for K: its own Hash method when it has one, xxhash for
// strings, and a formatted representation for anything else.
func defaultHasher[K comparable]() func(K) uint64 {
	switch any(*new(K)).(type) {
	case interface{ Hash() uint64 }:
		return func(key K) uint64 { return any(key).(interface{ Hash() uint64 }).Hash() }
	case string:
		return func(key K) uint64 { return xxhash.Sum64String(any(key).(string)) }
	default:
		return func(key K) uint64 { return xxhash.Sum64String(fmt.Sprintf("%#v", key)) }
	}
}
