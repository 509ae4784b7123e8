// Package sweeper periodically removes expired puzzles and pending solutions.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/slider-captcha/internal/errorreporting"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
)

// Target is what the sweeper cleans. *generator.Generator satisfies it.
type Target interface {
	Cleanup() (removed, remaining int)
	RemoveExpiredSolutions(now int64) int
}

// Result is the outcome of one sweep.
type Result struct {
	PuzzlesRemoved   int
	PuzzlesRemaining int
	SolutionsRemoved int
}

// Sweeper runs Sweep on a fixed interval.
type Sweeper struct {
	target   Target
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a sweeper. A non-positive interval falls back to five minutes.
func New(target Target, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		now:      time.Now,
		log:      logger.WithComponent("sweeper"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called. It blocks.
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for the current sweep to finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// tick runs one sweep, recovering from panics so the loop survives.
func (s *Sweeper) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sweep panicked", "panic", r)
			errorreporting.CapturePanic("sweeper", r)
		}
	}()
	s.Sweep()
}

// Sweep removes expired entries once and reports what it did.
func (s *Sweeper) Sweep() Result {
	start := time.Now()

	removed, remaining := s.target.Cleanup()
	solutions := s.target.RemoveExpiredSolutions(s.now().Unix())

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweepRemoved.WithLabelValues("puzzle").Add(float64(removed))
	metrics.SweepRemoved.WithLabelValues("solution").Add(float64(solutions))
	metrics.PuzzleCacheItems.Set(float64(remaining))

	s.log.Info("sweep complete",
		"removed", removed,
		"remaining", remaining,
		"solutions_removed", solutions,
	)
	return Result{PuzzlesRemoved: removed, PuzzlesRemaining: remaining, SolutionsRemoved: solutions}
}
