package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeadersOnEveryRoute(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	for _, path := range []string{"/health", "/stats", "/puzzle"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing X-Content-Type-Options", path)
		}
		if rr.Header().Get("Cache-Control") != "no-store" {
			t.Errorf("%s: challenges must not be cached", path)
		}
	}
}

func TestCORSBypass(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://shop.example.com", true},
		{"https://evil.com", false},
		{"https://shop.example.com.evil.com", false},
		{"null", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/puzzle/solution", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		got := rr.Header().Get("Access-Control-Allow-Origin")
		if tt.allowed && got != tt.origin {
			t.Errorf("origin %s should be allowed, got %q", tt.origin, got)
		}
		if !tt.allowed && got != "" {
			t.Errorf("origin %s should be denied, got %q", tt.origin, got)
		}
	}
}

func TestResourceExhaustion(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	body := `{"id":"` + strings.Repeat("a", 10_000) + `","x":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/puzzle/solution", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", rr.Code)
	}
}

func TestOversizedPuzzleRejected(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/puzzle?w=100000&h=100000", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for dimensions above the limit, got %d", rr.Code)
	}
}

func TestHTTPMethodValidation(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/puzzle"},
		{http.MethodPut, "/puzzle/solution"},
		{http.MethodGet, "/puzzle/solution"},
		{http.MethodPost, "/health"},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, rr.Code)
		}
	}
}
