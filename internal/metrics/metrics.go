package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Puzzle cache metrics
	PuzzleCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzle_cache_hits_total",
			Help: "Total number of puzzle requests served from the cache",
		},
		[]string{"dimensions"},
	)

	PuzzleCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzle_cache_misses_total",
			Help: "Total number of puzzle requests that needed a fresh synthesis",
		},
		[]string{"dimensions"},
	)

	PuzzleCacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "puzzle_cache_items",
			Help: "Current number of live puzzles held in the cache",
		},
	)

	PuzzleCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "puzzle_cache_evictions_total",
			Help: "Total number of cached puzzles dropped because a bucket was full",
		},
	)

	// Generator metrics
	PuzzleSynthesisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "puzzle_synthesis_duration_seconds",
			Help:    "Duration of puzzle synthesis in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"status"}, // status: success, failed
	)

	PuzzleSynthesisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzle_synthesis_total",
			Help: "Total number of puzzle syntheses by outcome",
		},
		[]string{"status", "source"}, // source: request, prefill
	)

	GeneratorQueueRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "generator_queue_rejections_total",
			Help: "Total number of generation requests rejected because the queue was full",
		},
	)

	GeneratorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "generator_queue_depth",
			Help: "Number of generation requests waiting for an admission slot",
		},
	)

	GeneratorInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "generator_in_flight",
			Help: "Number of syntheses currently running",
		},
	)

	// Verification metrics
	PendingSolutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "captcha_pending_solutions",
			Help: "Number of issued challenges awaiting verification",
		},
	)

	ChallengesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "captcha_challenges_issued_total",
			Help: "Total number of challenges handed to clients",
		},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captcha_verifications_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"outcome"}, // outcome: verified, incorrect, exhausted, expired, invalid_id
	)

	// Sweeper metrics
	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_removed_total",
			Help: "Total number of expired items removed by the background sweeper",
		},
		[]string{"kind"}, // kind: puzzle, solution
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_run_duration_seconds",
			Help:    "Duration of a sweeper tick in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// Audit metrics
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Total number of audit events dropped because the buffer was full or the sink failed",
		},
	)

	AuditWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_write_duration_seconds",
			Help:    "Duration of audit sink writes",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// Outbound HTTP metrics (bench client)
	ClientHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "client_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"status"}, // status: success, retry, failure, error
	)

	ClientHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "client_http_retries_total",
			Help: "Total number of outbound HTTP request retries",
		},
	)

	ClientRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "client_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
