// Package audit keeps a trail of verification outcomes.
//
// Recording never blocks the verification path: events are buffered and written by a
// single background goroutine, and are dropped when the buffer is full.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
)

// Event is one verification outcome.
type Event struct {
	ChallengeID string    `json:"challenge_id"`
	Outcome     string    `json:"outcome"`
	Attempts    uint32    `json:"attempts"`
	ClientIP    string    `json:"client_ip,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Recorder accepts events. Implementations must not block.
type Recorder interface {
	Record(Event)
}

// Sink persists a batch of events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// AsyncOptions tunes an AsyncRecorder.
type AsyncOptions struct {
	Buffer        int           // default 1024
	BatchSize     int           // default 100
	FlushInterval time.Duration // default 2s
	WriteTimeout  time.Duration // default 5s
}

// AsyncRecorder buffers events and hands them to a Sink in batches.
type AsyncRecorder struct {
	sink   Sink
	opts   AsyncOptions
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewAsyncRecorder starts the writer goroutine. Call Close to flush and stop it.
func NewAsyncRecorder(sink Sink, opts AsyncOptions) *AsyncRecorder {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	r := &AsyncRecorder{
		sink:   sink,
		opts:   opts,
		events: make(chan Event, opts.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    logger.WithComponent("audit"),
	}
	go r.loop()
	return r
}

// Record queues e, dropping it when the buffer is full.
func (r *AsyncRecorder) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
	}
}

// Dropped is the number of events lost to a full buffer or a failed write.
func (r *AsyncRecorder) Dropped() uint64 { return r.dropped.Load() }

// Written is the number of events the sink accepted.
func (r *AsyncRecorder) Written() uint64 { return r.written.Load() }

// Close flushes buffered events and stops the writer. It returns ctx.Err() if
// ctx ends before the final flush completes.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.stop) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.opts.BatchSize)
	for {
		select {
		case e := <-r.events:
			batch = append(batch, e)
			if len(batch) >= r.opts.BatchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-r.stop:
			for {
				select {
				case e := <-r.events:
					batch = append(batch, e)
					if len(batch) >= r.opts.BatchSize {
						batch = r.flush(batch)
					}
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.sink.Write(ctx, batch)
	metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.dropped.Add(uint64(len(batch)))
		metrics.AuditEventsDropped.Add(float64(len(batch)))
		r.log.Warn("audit write failed", "events", len(batch), "error", err)
	} else {
		r.written.Add(uint64(len(batch)))
	}
	return batch[:0]
}
