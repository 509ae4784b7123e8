// Package generator turns "need a puzzle of size WxH" into a synthesized artifact.
//
// Requests that miss the cache take an admission token and are queued on a bounded
// channel. A single dispatcher goroutine admits them through a weighted semaphore and
// runs each synthesis on its own goroutine. Results are inserted into the cache and
// handed to the waiting caller. The token is held until the job ends, so queued plus
// running work never exceeds the queue capacity.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/onnwee/slider-captcha/internal/cache"
	"github.com/onnwee/slider-captcha/internal/errorreporting"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
	"github.com/onnwee/slider-captcha/internal/puzzle"
	"github.com/onnwee/slider-captcha/internal/solution"
	"github.com/onnwee/slider-captcha/internal/tracing"
)

var (
	// ErrBusy is returned when the generation queue is full.
	ErrBusy = errors.New("generator: queue full")
	// ErrUnavailable is returned when a queued synthesis failed or the generator stopped.
	ErrUnavailable = errors.New("generator: puzzle unavailable")
)

const (
	sourceRequest = "request"
	sourcePrefill = "prefill"
)

// Options configures a Generator. Zero values select the defaults noted per field.
type Options struct {
	CacheTTL        time.Duration // default 5m
	CacheMaxPerSize int           // default 32; admission capacity is four times this
	CacheShards     int           // default cache.DefaultShards
	Concurrency     int           // default 2
	SolutionShards  int           // default 16
	Synthesizer     puzzle.Synthesizer
	Clock           func() time.Time
}

func (o *Options) setDefaults() {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
	if o.CacheMaxPerSize <= 0 {
		o.CacheMaxPerSize = 32
	}
	if o.CacheShards <= 0 {
		o.CacheShards = cache.DefaultShards
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.Synthesizer == nil {
		o.Synthesizer = puzzle.Default
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type request struct {
	dims   puzzle.Dimensions
	reply  chan *puzzle.Artifact // nil for prefill
	source string
	span   trace.SpanContext
}

// Generator owns the puzzle cache, the solution store and the synthesis pipeline.
type Generator struct {
	cache       *cache.ExpiringCache[puzzle.Dimensions, *puzzle.Artifact]
	solutions   *solution.Store
	queue       chan request
	admit       *semaphore.Weighted // queued + running, capacity cap(queue)
	sem         *semaphore.Weighted // running, capacity concurrency
	concurrency int
	synth       puzzle.Synthesizer
	log         *slog.Logger

	jobs     sync.WaitGroup
	inFlight atomic.Int64

	// mu orders enqueues against shutdown: senders hold it for reading while they
	// check stopped and send, shutdown takes it for writing to set stopped.
	mu      sync.RWMutex
	stopped atomic.Bool
}

// New builds a Generator. Run must be started before misses can be served.
func New(opts Options) *Generator {
	opts.setDefaults()

	return &Generator{
		cache: cache.New[puzzle.Dimensions, *puzzle.Artifact](
			opts.CacheTTL,
			opts.CacheMaxPerSize,
			cache.WithShards[puzzle.Dimensions](opts.CacheShards),
			cache.WithClock[puzzle.Dimensions](opts.Clock),
		),
		solutions:   solution.NewStore(opts.SolutionShards),
		queue:       make(chan request, opts.CacheMaxPerSize*4),
		admit:       semaphore.NewWeighted(int64(opts.CacheMaxPerSize * 4)),
		sem:         semaphore.NewWeighted(int64(opts.Concurrency)),
		concurrency: opts.Concurrency,
		synth:       opts.Synthesizer,
		log:         logger.WithComponent("generator"),
	}
}

// Run dispatches queued requests until ctx is cancelled. A slot is acquired before
// the next request is taken, so at most Concurrency syntheses run while the rest
// stay queued. On return, running jobs are awaited and queued waiters are released
// with ErrUnavailable.
func (g *Generator) Run(ctx context.Context) error {
	g.log.Info("generator started", "concurrency", g.concurrency, "queue_capacity", cap(g.queue))
	defer g.shutdown()

	for {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			g.sem.Release(1)
			return nil
		case req := <-g.queue:
			metrics.GeneratorQueueDepth.Set(float64(len(g.queue)))
			g.jobs.Add(1)
			go func() {
				defer g.jobs.Done()
				defer g.admit.Release(1)
				defer g.sem.Release(1)
				g.process(req)
			}()
		}
	}
}

func (g *Generator) shutdown() {
	g.mu.Lock()
	g.stopped.Store(true)
	g.mu.Unlock()

	g.jobs.Wait()
	for {
		select {
		case req := <-g.queue:
			g.admit.Release(1)
			if req.reply != nil {
				close(req.reply)
			}
		default:
			metrics.GeneratorQueueDepth.Set(0)
			g.log.Info("generator stopped")
			return
		}
	}
}

// process runs one synthesis. Failures are never retried; the waiter's channel is
// closed without a value.
func (g *Generator) process(req request) {
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), req.span)
	_, span := tracing.StartSpan(ctx, "generator.synthesize",
		attribute.String("dimensions", req.dims.String()),
		attribute.String("source", req.source),
	)
	defer span.End()

	g.inFlight.Add(1)
	metrics.GeneratorInFlight.Inc()
	start := time.Now()
	art, err := g.synthesize(req.dims)
	elapsed := time.Since(start)
	metrics.GeneratorInFlight.Dec()
	g.inFlight.Add(-1)

	if err != nil {
		tracing.RecordError(span, err)
		metrics.PuzzleSynthesisDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
		metrics.PuzzleSynthesisTotal.WithLabelValues("failed", req.source).Inc()
		g.log.Error("puzzle synthesis failed",
			"dimensions", req.dims.String(),
			"source", req.source,
			"error", err,
		)
		errorreporting.CaptureErrorWithContext(err,
			map[string]string{"component": "generator", "source": req.source},
			map[string]interface{}{"dimensions": req.dims.String()},
		)
		if req.reply != nil {
			close(req.reply)
		}
		return
	}

	metrics.PuzzleSynthesisDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	metrics.PuzzleSynthesisTotal.WithLabelValues("success", req.source).Inc()
	g.cache.Insert(req.dims, art)
	g.log.Info("puzzle generated",
		"dimensions", req.dims.String(),
		"source", req.source,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if req.reply != nil {
		req.reply <- art
		close(req.reply)
	}
}

func (g *Generator) synthesize(d puzzle.Dimensions) (art *puzzle.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			errorreporting.CapturePanic("generator", r)
			art, err = nil, fmt.Errorf("synthesis panicked: %v", r)
		}
	}()

	art, err = g.synth.Synthesize(d)
	if err == nil && art == nil {
		err = errors.New("synthesizer returned no artifact")
	}
	return art, err
}

// GetPuzzle pops a cached artifact for dims or queues a synthesis and waits for it.
// It returns ErrBusy when queued plus running jobs already fill the queue capacity,
// ErrUnavailable when the synthesis failed or the generator stopped, and ctx.Err()
// when the caller stops waiting. In the last case the artifact is still cached once
// it is built.
func (g *Generator) GetPuzzle(ctx context.Context, dims puzzle.Dimensions) (*puzzle.Artifact, error) {
	ctx, span := tracing.StartSpan(ctx, "generator.GetPuzzle", attribute.String("dimensions", dims.String()))
	defer span.End()

	label := dims.String()
	if art, ok := g.cache.Pop(dims); ok {
		metrics.PuzzleCacheHits.WithLabelValues(label).Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return art, nil
	}
	metrics.PuzzleCacheMisses.WithLabelValues(label).Inc()
	span.SetAttributes(attribute.Bool("cache_hit", false))

	reply := make(chan *puzzle.Artifact, 1)
	req := request{dims: dims, reply: reply, source: sourceRequest, span: span.SpanContext()}
	if err := g.enqueue(req); err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.GeneratorQueueRejections.Inc()
			g.log.Warn("failed to enqueue puzzle generation", "dimensions", label, "queue_depth", len(g.queue))
		}
		tracing.RecordError(span, err)
		return nil, err
	}

	select {
	case art, ok := <-reply:
		if !ok {
			tracing.RecordError(span, ErrUnavailable)
			return nil, ErrUnavailable
		}
		return art, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue takes an admission token without waiting and queues req. A held token
// guarantees room in the queue, so the send never blocks.
func (g *Generator) enqueue(req request) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped.Load() {
		return ErrUnavailable
	}
	if !g.admit.TryAcquire(1) {
		return ErrBusy
	}
	g.queue <- req
	metrics.GeneratorQueueDepth.Set(float64(len(g.queue)))
	return nil
}

// Prefill queues perSize syntheses for every entry in dims through the same
// admission used by misses. It blocks while the capacity is taken, so run it on
// its own goroutine. Returns how many jobs were queued before ctx ended or the
// generator stopped.
func (g *Generator) Prefill(ctx context.Context, dims []puzzle.Dimensions, perSize int) int {
	queued := 0
	for _, d := range dims {
		for i := 0; i < perSize; i++ {
			if err := g.admit.Acquire(ctx, 1); err != nil {
				g.log.Warn("prefill interrupted", "queued", queued, "error", err)
				return queued
			}
			if !g.queueAdmitted(request{dims: d, source: sourcePrefill}) {
				g.admit.Release(1)
				g.log.Warn("prefill interrupted", "queued", queued, "error", ErrUnavailable)
				return queued
			}
			queued++
		}
		g.log.Info("prefill queued", "dimensions", d.String(), "count", perSize)
	}
	return queued
}

// queueAdmitted sends a request whose token is already held. It reports false once
// the generator has stopped.
func (g *Generator) queueAdmitted(req request) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped.Load() {
		return false
	}
	g.queue <- req
	metrics.GeneratorQueueDepth.Set(float64(len(g.queue)))
	return true
}

// CacheSolution records the answer for a freshly issued challenge.
func (g *Generator) CacheSolution(id string, solution float64, expiresAt int64) {
	g.solutions.Put(id, solution, expiresAt)
}

// GetSolution returns a snapshot of the pending record for id.
func (g *Generator) GetSolution(id string) (solution.Pending, bool) {
	return g.solutions.Get(id)
}

// IncrementAttempts bumps the failed-attempt counter for id.
func (g *Generator) IncrementAttempts(id string) (uint32, bool) {
	return g.solutions.IncrementAttempts(id)
}

// RemoveSolution deletes the pending record for id.
func (g *Generator) RemoveSolution(id string) (solution.Pending, bool) {
	return g.solutions.Remove(id)
}

// RemoveExpiredSolutions drops pending records whose deadline is at or before now.
func (g *Generator) RemoveExpiredSolutions(now int64) int {
	return g.solutions.RemoveExpired(now)
}

// Cleanup strips expired artifacts from the cache.
func (g *Generator) Cleanup() (removed, remaining int) {
	return g.cache.CleanExpired()
}

// CacheLen is the number of live artifacts cached for dims.
func (g *Generator) CacheLen(dims puzzle.Dimensions) int { return g.cache.LenFor(dims) }

// TotalCached is the number of live artifacts across all dimensions.
func (g *Generator) TotalCached() int { return g.cache.TotalLen() }

// QueueLen is the number of requests waiting for a slot.
func (g *Generator) QueueLen() int { return len(g.queue) }

// QueueCapacity is the admission capacity: queued plus running jobs.
func (g *Generator) QueueCapacity() int { return cap(g.queue) }

// InFlight is the number of syntheses running right now.
func (g *Generator) InFlight() int { return int(g.inFlight.Load()) }

// PendingSolutions is the number of challenges awaiting verification.
func (g *Generator) PendingSolutions() int { return g.solutions.Len() }

// CacheStats returns the cache counters.
func (g *Generator) CacheStats() cache.Stats { return g.cache.Stats() }

// CachedDimensions lists the dimensions that currently have live artifacts.
func (g *Generator) CachedDimensions() []puzzle.Dimensions { return g.cache.Keys() }
