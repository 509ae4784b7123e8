package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/slider-captcha/internal/generator"
	"github.com/onnwee/slider-captcha/internal/puzzle"
)

type countingTarget struct {
	sweeps   atomic.Int64
	panicOn  int64
	lastNow  atomic.Int64
	removed  int
	solution int
}

func (c *countingTarget) Cleanup() (int, int) {
	n := c.sweeps.Add(1)
	if n == c.panicOn {
		panic("cleanup failed")
	}
	return c.removed, 7
}

func (c *countingTarget) RemoveExpiredSolutions(now int64) int {
	c.lastNow.Store(now)
	return c.solution
}

func TestSweep_ReportsCounts(t *testing.T) {
	target := &countingTarget{removed: 3, solution: 2}
	s := New(target, time.Hour)
	s.now = func() time.Time { return time.Unix(1234, 0) }

	res := s.Sweep()
	assert.Equal(t, Result{PuzzlesRemoved: 3, PuzzlesRemaining: 7, SolutionsRemoved: 2}, res)
	assert.Equal(t, int64(1234), target.lastNow.Load())
}

func TestStart_TicksUntilStopped(t *testing.T) {
	target := &countingTarget{}
	s := New(target, 5*time.Millisecond)

	go s.Start(context.Background())
	require.Eventually(t, func() bool { return target.sweeps.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()
	after := target.sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, target.sweeps.Load(), "no sweeps after Stop")
}

func TestStart_SurvivesPanic(t *testing.T) {
	target := &countingTarget{panicOn: 1}
	s := New(target, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	require.Eventually(t, func() bool { return target.sweeps.Load() >= 3 }, time.Second, time.Millisecond)

	cancel()
	s.Stop()
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(&countingTarget{}, 0)
	assert.Equal(t, 5*time.Minute, s.interval)
}

func TestSweep_WithGenerator(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	gen := generator.New(generator.Options{CacheTTL: time.Minute, Clock: clock})
	gen.CacheSolution("old", 0.5, now.Unix()-1)
	gen.CacheSolution("fresh", 0.5, now.Unix()+60)

	s := New(gen, time.Hour)
	s.now = clock

	res := s.Sweep()
	assert.Equal(t, 1, res.SolutionsRemoved)
	assert.Equal(t, 1, gen.PendingSolutions())
	assert.Zero(t, res.PuzzlesRemaining)
	assert.Zero(t, gen.CacheLen(puzzle.Dimensions{Width: 500, Height: 300}))
}
