package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/onnwee/slider-captcha/internal/httpx"
)

type benchOptions struct {
	url         string
	width       int
	height      int
	rps         float64
	duration    time.Duration
	concurrency int
	retries     int
}

// benchResult accumulates per-request outcomes across workers.
type benchResult struct {
	mu        sync.Mutex
	ok        int
	busy      int
	failed    int
	errors    int
	bytes     uint64
	latencies []time.Duration
}

func (r *benchResult) record(status int, n int64, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil:
		r.errors++
		return
	case status == http.StatusOK:
		r.ok++
	case status == http.StatusServiceUnavailable:
		r.busy++
	default:
		r.failed++
	}
	r.bytes += uint64(max(n, 0))
	r.latencies = append(r.latencies, latency)
}

// percentile returns the p-th percentile (0-100) using nearest rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	rank = min(max(rank, 0), len(sorted)-1)
	return sorted[rank]
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive sustained GET /puzzle load against a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			res, err := runBench(ctx, http.DefaultClient, opts)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080", "service base URL")
	cmd.Flags().IntVar(&opts.width, "width", 500, "puzzle width")
	cmd.Flags().IntVar(&opts.height, "height", 300, "puzzle height")
	cmd.Flags().Float64Var(&opts.rps, "rps", 50, "target requests per second")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 8, "concurrent workers")
	cmd.Flags().IntVar(&opts.retries, "retries", 1, "attempts per request; >1 retries busy responses")
	return cmd
}

func runBench(ctx context.Context, client *http.Client, opts benchOptions) (*benchResult, error) {
	if opts.rps <= 0 || opts.concurrency <= 0 || opts.duration <= 0 {
		return nil, fmt.Errorf("rps, concurrency and duration must be positive")
	}
	target := fmt.Sprintf("%s/puzzle?w=%d&h=%d", opts.url, opts.width, opts.height)

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(opts.rps), 1)
	retry := httpx.Options{MaxAttempts: opts.retries, BaseDelay: 50 * time.Millisecond}
	build := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}

	res := &benchResult{}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.concurrency; i++ {
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				start := time.Now()
				resp, err := httpx.Do(gctx, client, retry, build)
				if gctx.Err() != nil {
					if resp != nil {
						resp.Body.Close()
					}
					return nil
				}
				if err != nil {
					res.record(0, 0, 0, err)
					continue
				}
				n, _ := io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				res.record(resp.StatusCode, n, time.Since(start), nil)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(res.latencies)
	return res, nil
}

func printBench(w io.Writer, opts benchOptions, res *benchResult) {
	total := res.ok + res.busy + res.failed + res.errors
	fmt.Fprintf(w, "%s requests in %s (%.1f req/s)\n",
		humanize.Comma(int64(total)), opts.duration, float64(total)/opts.duration.Seconds())
	fmt.Fprintf(w, "  ok=%d busy=%d failed=%d errors=%d\n", res.ok, res.busy, res.failed, res.errors)
	fmt.Fprintf(w, "  received %s\n", humanize.Bytes(res.bytes))
	if len(res.latencies) == 0 {
		return
	}
	fmt.Fprintf(w, "  latency p50=%s p90=%s p99=%s max=%s\n",
		percentile(res.latencies, 50),
		percentile(res.latencies, 90),
		percentile(res.latencies, 99),
		res.latencies[len(res.latencies)-1],
	)
}
