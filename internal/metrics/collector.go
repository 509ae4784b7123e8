package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/slider-captcha/internal/cache"
	"github.com/onnwee/slider-captcha/internal/logger"
)

// Source exposes the generator gauges the collector samples.
type Source interface {
	TotalCached() int
	QueueLen() int
	InFlight() int
	PendingSolutions() int
	CacheStats() cache.Stats
}

// Collector periodically samples a Source and updates Prometheus gauges
type Collector struct {
	source   Source
	interval time.Duration
	stop     chan struct{}
	once     sync.Once

	lastEvictions uint64
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the collection loop. It blocks until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	logger.Debug("metrics collector started", "interval", c.interval)

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// collect is only called from the Start goroutine.
func (c *Collector) collect() {
	PuzzleCacheItems.Set(float64(c.source.TotalCached()))
	GeneratorQueueDepth.Set(float64(c.source.QueueLen()))
	GeneratorInFlight.Set(float64(c.source.InFlight()))
	PendingSolutions.Set(float64(c.source.PendingSolutions()))

	// The cache keeps a monotonic eviction count; export the delta.
	evictions := c.source.CacheStats().Evictions
	if evictions > c.lastEvictions {
		PuzzleCacheEvictions.Add(float64(evictions - c.lastEvictions))
	}
	c.lastEvictions = evictions
}
