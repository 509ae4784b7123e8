package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/onnwee/slider-captcha/internal/puzzle"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
	if cfg.SolutionTTL() != 10*time.Minute {
		t.Errorf("SolutionTTL() = %v, want 10m", cfg.SolutionTTL())
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Errorf("CacheTTL() = %v, want 5m", cfg.CacheTTL())
	}
	if cfg.CachePrefillPerSize != 8 || cfg.CacheMaxPerSize != 32 {
		t.Errorf("unexpected cache defaults: prefill=%d max=%d", cfg.CachePrefillPerSize, cfg.CacheMaxPerSize)
	}
	if want := max(runtime.NumCPU(), 2); cfg.GeneratorConcurrency != want {
		t.Errorf("GeneratorConcurrency = %d, want %d", cfg.GeneratorConcurrency, want)
	}
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("Workers = %d, want %d", cfg.Workers, runtime.NumCPU())
	}
	if len(cfg.PrefillDimensions) != 1 || cfg.PrefillDimensions[0] != (puzzle.Dimensions{Width: 500, Height: 300}) {
		t.Errorf("PrefillDimensions = %v, want [500x300]", cfg.PrefillDimensions)
	}
	if !cfg.ImmediateCleanup {
		t.Error("ImmediateCleanup should default to true")
	}
	if cfg.Tolerance != 0.015 || cfg.MaxAttempts != 5 {
		t.Errorf("unexpected verification defaults: tolerance=%v attempts=%d", cfg.Tolerance, cfg.MaxAttempts)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v, want two development origins", cfg.CORSAllowedOrigins)
	}
	if cfg.SentryEnvironment != "development" || cfg.SentryRelease != "dev" {
		t.Errorf("sentry env/release = %q/%q", cfg.SentryEnvironment, cfg.SentryRelease)
	}
	if cfg.DatabaseURL != "" {
		t.Error("audit should be disabled by default")
	}
}

func TestParseFrom_Overrides(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{
		"SERVER_PORT":                  "9000",
		"PUZZLE_CACHE_TTL_SECS":        "60",
		"PUZZLE_GENERATOR_CONCURRENCY": "3",
		"PUZZLE_PREFILL_DIMENSIONS":    "320x200, bogus, 640x0",
		"IMMEDIATE_CACHE_CLEANUP":      "false",
		"PUZZLE_TOLERANCE":             "0.01",
		"CORS_ALLOWED_ORIGINS":         " https://a.example , ,https://b.example",
		"LOG_LEVEL":                    " DEBUG ",
		"ENV":                          "production",
	})
	if err != nil {
		t.Fatalf("ParseFrom: %v", err)
	}

	if cfg.Port != 9000 || cfg.CacheTTL() != time.Minute || cfg.GeneratorConcurrency != 3 {
		t.Errorf("overrides not applied: port=%d ttl=%v conc=%d", cfg.Port, cfg.CacheTTL(), cfg.GeneratorConcurrency)
	}
	want := puzzle.DimensionList{{Width: 320, Height: 200}, {Width: 640, Height: 1}}
	if len(cfg.PrefillDimensions) != len(want) {
		t.Fatalf("PrefillDimensions = %v, want %v", cfg.PrefillDimensions, want)
	}
	for i := range want {
		if cfg.PrefillDimensions[i] != want[i] {
			t.Errorf("PrefillDimensions[%d] = %v, want %v", i, cfg.PrefillDimensions[i], want[i])
		}
	}
	if cfg.ImmediateCleanup {
		t.Error("ImmediateCleanup should be false")
	}
	if cfg.Tolerance != 0.01 {
		t.Errorf("Tolerance = %v, want 0.01", cfg.Tolerance)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example" {
		t.Errorf("CORSAllowedOrigins = %q", cfg.CORSAllowedOrigins)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.IsProduction() || cfg.SentryEnvironment != "production" {
		t.Error("production env should carry through to sentry")
	}
}

func TestParseFrom_NonPositiveFallsBack(t *testing.T) {
	cfg, err := ParseFrom(map[string]string{
		"PUZZLE_CACHE_MAX":          "0",
		"PUZZLE_SOLUTION_TTL_SECS":  "-5",
		"CLEANUP_INTERVAL_SECS":     "0",
		"PUZZLE_MAX_DIMENSION":      "50",
		"PUZZLE_PREFILL_DIMENSIONS": "nonsense",
	})
	if err != nil {
		t.Fatalf("ParseFrom: %v", err)
	}
	if cfg.CacheMaxPerSize != 32 || cfg.SolutionTTLSecs != 600 || cfg.CleanupIntervalSecs != 300 {
		t.Errorf("non-positive values should fall back: max=%d ttl=%d cleanup=%d",
			cfg.CacheMaxPerSize, cfg.SolutionTTLSecs, cfg.CleanupIntervalSecs)
	}
	if cfg.MaxDimension != cfg.MinDimension {
		t.Errorf("MaxDimension = %d, should be raised to MinDimension %d", cfg.MaxDimension, cfg.MinDimension)
	}
	if len(cfg.PrefillDimensions) != 1 {
		t.Errorf("PrefillDimensions = %v, want default", cfg.PrefillDimensions)
	}
}

func TestParseFrom_Malformed(t *testing.T) {
	if _, err := ParseFrom(map[string]string{"SERVER_PORT": "eighty"}); err == nil {
		t.Error("expected an error for a non-numeric port")
	}
}

func TestLoadCaches(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	t.Setenv("SERVER_PORT", "7000")
	first := Load()
	t.Setenv("SERVER_PORT", "7001")
	if second := Load(); second != first || second.Port != 7000 {
		t.Errorf("Load should return the cached config, got port %d", second.Port)
	}
}

func TestLoadFallsBackOnError(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	t.Setenv("PUZZLE_CACHE_MAX", "many")
	if cfg := Load(); cfg.CacheMaxPerSize != 32 {
		t.Errorf("CacheMaxPerSize = %d, want default 32", cfg.CacheMaxPerSize)
	}
}
