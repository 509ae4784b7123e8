// Package server assembles the captcha service and runs it behind an http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/slider-captcha/internal/api"
	"github.com/onnwee/slider-captcha/internal/api/handlers"
	"github.com/onnwee/slider-captcha/internal/audit"
	"github.com/onnwee/slider-captcha/internal/captcha"
	"github.com/onnwee/slider-captcha/internal/config"
	"github.com/onnwee/slider-captcha/internal/generator"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
	"github.com/onnwee/slider-captcha/internal/middleware"
	"github.com/onnwee/slider-captcha/internal/puzzle"
	"github.com/onnwee/slider-captcha/internal/secrets"
	"github.com/onnwee/slider-captcha/internal/sweeper"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	collectorInterval      = 15 * time.Second
)

// Options override pieces of the assembled server, mostly for tests.
type Options struct {
	Synthesizer     puzzle.Synthesizer
	Listener        net.Listener // nil listens on cfg.Addr()
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg  *config.Config
	opts Options

	Generator *generator.Generator
	Captcha   *captcha.Service

	sweeper   *sweeper.Sweeper
	collector *metrics.Collector
	hub       *handlers.StatsHub
	limiter   *middleware.RateLimiter
	recorder  *audit.AsyncRecorder
	sink      *audit.PostgresSink
	http      *http.Server
}

// New wires every component from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{cfg: cfg, opts: opts}

	s.Generator = generator.New(generator.Options{
		CacheTTL:        cfg.CacheTTL(),
		CacheMaxPerSize: cfg.CacheMaxPerSize,
		CacheShards:     cfg.CacheShards,
		Concurrency:     cfg.GeneratorConcurrency,
		Synthesizer:     opts.Synthesizer,
	})

	var recorder audit.Recorder = audit.Nop{}
	if cfg.DatabaseURL != "" {
		sink, err := audit.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("audit sink %s: %w", secrets.MaskURL(cfg.DatabaseURL), err)
		}
		s.sink = sink
		s.recorder = audit.NewAsyncRecorder(sink, audit.AsyncOptions{})
		recorder = s.recorder
		logger.Info("audit trail enabled", "database", secrets.MaskURL(cfg.DatabaseURL))
	}

	s.Captcha = captcha.NewService(s.Generator, captcha.Options{
		SolutionTTL:      cfg.SolutionTTL(),
		Tolerance:        cfg.Tolerance,
		MaxAttempts:      uint32(cfg.MaxAttempts),
		ImmediateCleanup: cfg.ImmediateCleanup,
		Recorder:         recorder,
	})

	s.sweeper = sweeper.New(s.Generator, cfg.CleanupInterval())
	s.collector = metrics.NewCollector(s.Generator, collectorInterval)
	s.hub = handlers.NewStatsHub(s.Generator, cfg.StatsStreamInterval())
	if cfg.EnableRateLimit {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst, cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORSAllowedOrigins
	}

	router := api.NewRouter(api.Deps{
		Captcha:      s.Captcha,
		Stats:        s.Generator,
		Hub:          s.hub,
		Limits:       handlers.DimensionLimits{Min: cfg.MinDimension, Max: cfg.MaxDimension},
		PrefillSizes: cfg.PrefillDimensions,
		CORS:         cors,
		RateLimiter:  s.limiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run starts the background workers and serves HTTP until ctx is cancelled, then
// drains in-flight requests before stopping the workers.
func (s *Server) Run(ctx context.Context) error {
	bg, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() {
		if err := s.Generator.Run(bg); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("generator stopped", "error", err)
		}
	})
	spawn(func() {
		start := time.Now()
		n := s.Generator.Prefill(bg, s.cfg.PrefillDimensions, s.cfg.CachePrefillPerSize)
		logger.Info("prefill finished",
			"queued", n,
			"sizes", len(s.cfg.PrefillDimensions),
			"per_size", s.cfg.CachePrefillPerSize,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
	spawn(func() { s.sweeper.Start(bg) })
	spawn(func() { s.collector.Start(bg) })
	spawn(func() { s.hub.Run(bg) })

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if s.opts.Listener != nil {
			logger.Info("server listening", "addr", s.opts.Listener.Addr().String())
			err = s.http.Serve(s.opts.Listener)
		} else {
			logger.Info("server listening", "addr", s.http.Addr)
			err = s.http.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serveErr:
		logger.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	s.sweeper.Stop()
	s.collector.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	stopWorkers()
	wg.Wait()

	if s.recorder != nil {
		if err := s.recorder.Close(shutdownCtx); err != nil {
			logger.Warn("audit flush incomplete", "error", err)
		}
	}
	if s.sink != nil {
		s.sink.Close()
	}
	logger.Info("server stopped")
	return runErr
}
