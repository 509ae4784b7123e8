package generator

import "github.com/onnwee/slider-captcha/internal/cache"

// Snapshot is a point-in-time view of the generator, served on /stats.
type Snapshot struct {
	TotalCached      int            `json:"total_cached"`
	PerDimension     map[string]int `json:"per_dimension"`
	QueueDepth       int            `json:"queue_depth"`
	QueueCapacity    int            `json:"queue_capacity"`
	InFlight         int            `json:"in_flight"`
	Concurrency      int            `json:"concurrency"`
	PendingSolutions int            `json:"pending_solutions"`
	Cache            cache.Stats    `json:"cache"`
}

// Snapshot collects the current counters. Values are read without a global lock,
// so they may be mutually inconsistent by a few entries under load.
func (g *Generator) Snapshot() Snapshot {
	dims := g.CachedDimensions()
	per := make(map[string]int, len(dims))
	total := 0
	for _, d := range dims {
		n := g.CacheLen(d)
		per[d.String()] = n
		total += n
	}

	return Snapshot{
		TotalCached:      total,
		PerDimension:     per,
		QueueDepth:       g.QueueLen(),
		QueueCapacity:    g.QueueCapacity(),
		InFlight:         g.InFlight(),
		Concurrency:      g.concurrency,
		PendingSolutions: g.PendingSolutions(),
		Cache:            g.CacheStats(),
	}
}
