package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/onnwee/slider-captcha/internal/puzzle"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// Server
	Host    string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port    int    `env:"SERVER_PORT" envDefault:"8080"`
	Workers int    `env:"SERVER_WORKERS"` // 0 = NumCPU

	// Puzzle cache and generation
	SolutionTTLSecs      int                  `env:"PUZZLE_SOLUTION_TTL_SECS" envDefault:"600"`
	CacheTTLSecs         int                  `env:"PUZZLE_CACHE_TTL_SECS" envDefault:"300"`
	CachePrefillPerSize  int                  `env:"PUZZLE_CACHE_PREFILL" envDefault:"8"`
	CacheMaxPerSize      int                  `env:"PUZZLE_CACHE_MAX" envDefault:"32"`
	CacheShards          int                  `env:"PUZZLE_CACHE_SHARDS" envDefault:"16"`
	GeneratorConcurrency int                  `env:"PUZZLE_GENERATOR_CONCURRENCY"` // 0 = max(NumCPU, 2)
	CleanupIntervalSecs  int                  `env:"CLEANUP_INTERVAL_SECS" envDefault:"300"`
	PrefillDimensions    puzzle.DimensionList `env:"PUZZLE_PREFILL_DIMENSIONS" envDefault:"500x300"`
	ImmediateCleanup     bool                 `env:"IMMEDIATE_CACHE_CLEANUP" envDefault:"true"`

	// Verification
	Tolerance    float64 `env:"PUZZLE_TOLERANCE" envDefault:"0.015"`
	MaxAttempts  int     `env:"PUZZLE_MAX_ATTEMPTS" envDefault:"5"`
	MinDimension int     `env:"PUZZLE_MIN_DIMENSION" envDefault:"100"`
	MaxDimension int     `env:"PUZZLE_MAX_DIMENSION" envDefault:"2000"`

	// Stats websocket push interval
	StatsStreamIntervalMS int `env:"STATS_STREAM_INTERVAL_MS" envDefault:"2000"`

	// Security settings
	EnableRateLimit      bool     `env:"ENABLE_RATE_LIMIT" envDefault:"true"`
	RateLimitGlobal      float64  `env:"RATE_LIMIT_GLOBAL" envDefault:"100"`      // requests per second globally
	RateLimitGlobalBurst int      `env:"RATE_LIMIT_GLOBAL_BURST" envDefault:"200"` // burst size for global rate limit
	RateLimitPerIP       float64  `env:"RATE_LIMIT_PER_IP" envDefault:"10"`        // requests per second per IP
	RateLimitPerIPBurst  int      `env:"RATE_LIMIT_PER_IP_BURST" envDefault:"20"`  // burst size for per-IP rate limit
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`
	MaxBodyBytes         int64    `env:"MAX_BODY_BYTES" envDefault:"4096"`

	// Audit trail; empty disables it
	DatabaseURL string `env:"DATABASE_URL"`

	// Observability settings
	Env               string  `env:"ENV" envDefault:"development"`
	LogLevel          string  `env:"LOG_LEVEL" envDefault:"info"`
	ServiceVersion    string  `env:"SERVICE_VERSION" envDefault:"dev"`
	OTELEnabled       bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint      string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate    float64 `env:"OTEL_TRACE_SAMPLE_RATE" envDefault:"0.1"`
	SentryDSN         string  `env:"SENTRY_DSN"`
	SentryEnvironment string  `env:"SENTRY_ENVIRONMENT"`
	SentryRelease     string  `env:"SENTRY_RELEASE"`
}

var (
	mu     sync.Mutex
	cached *Config
)

// Load reads env vars once and caches them. Malformed values fall back to the
// defaults; use Parse to see the error instead.
func Load() *Config {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return cached
	}
	cfg, err := Parse()
	if err != nil {
		cfg = Defaults()
	}
	cached = cfg
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}

// Parse reads the process environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// ParseFrom reads configuration from vars instead of the process environment.
func ParseFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	cfg, err := ParseFrom(map[string]string{})
	if err != nil {
		// envDefault tags are constants; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// normalize replaces non-positive numbers with their defaults and fills derived values.
func (c *Config) normalize() {
	cpus := runtime.NumCPU()

	positive(&c.Port, 8080)
	positive(&c.Workers, cpus)
	positive(&c.SolutionTTLSecs, 600)
	positive(&c.CacheTTLSecs, 300)
	positive(&c.CachePrefillPerSize, 8)
	positive(&c.CacheMaxPerSize, 32)
	positive(&c.CacheShards, 16)
	positive(&c.GeneratorConcurrency, max(cpus, 2))
	positive(&c.CleanupIntervalSecs, 300)
	positive(&c.MaxAttempts, 5)
	positive(&c.MinDimension, 100)
	positive(&c.MaxDimension, 2000)
	positive(&c.StatsStreamIntervalMS, 2000)
	positive(&c.RateLimitGlobalBurst, 200)
	positive(&c.RateLimitPerIPBurst, 20)

	if c.Tolerance <= 0 {
		c.Tolerance = 0.015
	}
	if c.MaxDimension < c.MinDimension {
		c.MaxDimension = c.MinDimension
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4096
	}
	if len(c.PrefillDimensions) == 0 {
		c.PrefillDimensions = puzzle.DimensionList{{Width: 500, Height: 300}}
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SentryEnvironment == "" {
		c.SentryEnvironment = c.Env
	}
	if c.SentryRelease == "" {
		c.SentryRelease = c.ServiceVersion
	}

	origins := c.CORSAllowedOrigins[:0]
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins
}

func positive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SolutionTTL is how long an issued challenge can be answered.
func (c *Config) SolutionTTL() time.Duration {
	return time.Duration(c.SolutionTTLSecs) * time.Second
}

// CacheTTL is how long a pre-built puzzle stays servable.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// CleanupInterval is the sweeper period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSecs) * time.Second
}

// StatsStreamInterval is the websocket push period.
func (c *Config) StatsStreamInterval() time.Duration {
	return time.Duration(c.StatsStreamIntervalMS) * time.Millisecond
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
