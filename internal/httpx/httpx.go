// Package httpx wraps outbound HTTP calls with retries that honour Retry-After.
package httpx

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
)

// ErrExhausted is returned when every attempt failed at the transport level.
var ErrExhausted = errors.New("httpx: exhausted retries")

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// Options tune the retry loop.
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxRetryAfter time.Duration // caps server-requested waits; 0 means 30s
	LogRetries    bool
	Pre           PreAttempt
	Observer      Observer
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxRetryAfter <= 0 {
		o.MaxRetryAfter = 30 * time.Second
	}
	return o
}

// retryable reports whether the status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses a Retry-After header as seconds or an HTTP date.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do sends the request produced by build, retrying transport errors, 429 and 5xx.
// build is called once per attempt so bodies can be replayed. When the final attempt
// still returns 429/5xx, that response is returned without an error.
func Do(ctx context.Context, client *http.Client, opts Options, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("httpx")

	report := func(info AttemptInfo) {
		if opts.Observer != nil {
			opts.Observer(info)
		}
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if opts.Pre != nil {
			if err := opts.Pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		var wait time.Duration
		switch {
		case err != nil:
			metrics.ClientHTTPRequests.WithLabelValues("error").Inc()
			info.Err = err
			if attempt == opts.MaxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report(info)
				return nil, err
			}
		case !retryable(resp.StatusCode):
			metrics.ClientHTTPRequests.WithLabelValues("success").Inc()
			info.Status = resp.StatusCode
			report(info)
			return resp, nil
		default:
			info.Status = resp.StatusCode
			if attempt == opts.MaxAttempts {
				metrics.ClientHTTPRequests.WithLabelValues("failure").Inc()
				report(info)
				return resp, nil
			}
			metrics.ClientHTTPRequests.WithLabelValues("retry").Inc()
			if d, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				wait = min(d, opts.MaxRetryAfter)
				metrics.ClientRetryAfterWaits.Observe(wait.Seconds())
			}
			resp.Body.Close()
		}

		if wait == 0 {
			jitter := time.Duration(rand.IntN(50)) * time.Millisecond
			wait = opts.BaseDelay*time.Duration(attempt) + jitter
		}
		info.Wait = wait
		report(info)
		metrics.ClientHTTPRetries.Inc()
		if opts.LogRetries {
			log.Debug("retrying request",
				"attempt", attempt,
				"method", info.Method,
				"url", info.URL,
				"status", info.Status,
				"error", info.Err,
				"wait", wait,
			)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}
