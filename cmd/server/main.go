package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/slider-captcha/internal/config"
	"github.com/onnwee/slider-captcha/internal/errorreporting"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/server"
	"github.com/onnwee/slider-captcha/internal/tracing"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.Env)
	if envErr != nil {
		logger.Debug("no .env file found, using process environment")
	}
	runtime.GOMAXPROCS(cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  cfg.OTELSampleRate,
		ServiceName: "slider-captcha",
		Version:     cfg.ServiceVersion,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	if err := errorreporting.Init(errorreporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
	}); err != nil {
		logger.Warn("sentry disabled", "error", err)
	}
	defer errorreporting.Flush(2 * time.Second)

	srv, err := server.New(ctx, cfg, server.Options{})
	if err != nil {
		logger.Error("startup failed", "error", err)
		errorreporting.CaptureError(err)
		os.Exit(1)
	}

	logger.Info("starting slider captcha service",
		"addr", cfg.Addr(),
		"env", cfg.Env,
		"version", cfg.ServiceVersion,
		"generator_concurrency", cfg.GeneratorConcurrency,
		"prefill", cfg.PrefillDimensions,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		errorreporting.CaptureError(err)
		errorreporting.Flush(2 * time.Second)
		os.Exit(1)
	}
}
