package apierr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/slider-captcha/internal/logger"
)

func TestNew(t *testing.T) {
	err := New(ErrPuzzleBusy, "busy", http.StatusServiceUnavailable)
	if err.Code != ErrPuzzleBusy {
		t.Errorf("expected code %s, got %s", ErrPuzzleBusy, err.Code)
	}
	if err.Message != "busy" {
		t.Errorf("expected message 'busy', got '%s'", err.Message)
	}
	if err.Status() != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, err.Status())
	}
}

func TestErrorInterface(t *testing.T) {
	err := SolutionExpired()
	expected := "SOLUTION_EXPIRED: Captcha expired"
	if err.Error() != expected {
		t.Errorf("expected error string %s, got %s", expected, err.Error())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, SolutionIncorrect(2, 3).WithRequestID("req-123"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if ra := w.Header().Get("Retry-After"); ra != "" {
		t.Errorf("Retry-After should only be set on 429/503, got %q", ra)
	}

	var resp struct {
		Error struct {
			Code      string         `json:"code"`
			Message   string         `json:"message"`
			Details   map[string]any `json:"details"`
			RequestID string         `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != string(ErrSolutionIncorrect) {
		t.Errorf("expected code %s, got %s", ErrSolutionIncorrect, resp.Error.Code)
	}
	if resp.Error.Message != "Verification failed" {
		t.Errorf("unexpected message %q", resp.Error.Message)
	}
	if resp.Error.Details["attempts"] != float64(2) || resp.Error.Details["remaining"] != float64(3) {
		t.Errorf("unexpected details %v", resp.Error.Details)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID 'req-123', got '%s'", resp.Error.RequestID)
	}
}

func TestWriteError_RetryAfterOnBusy(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, PuzzleBusy())

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After: 1, got %q", w.Header().Get("Retry-After"))
	}
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		name       string
		createErr  func() *Error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"PuzzleBusy", PuzzleBusy, ErrPuzzleBusy, http.StatusServiceUnavailable},
		{"PuzzleInvalidDimensions", func() *Error { return PuzzleInvalidDimensions(100, 2000) }, ErrPuzzleInvalidDimensions, http.StatusBadRequest},
		{"SolutionInvalidID", SolutionInvalidID, ErrSolutionInvalidID, http.StatusBadRequest},
		{"SolutionExpired", SolutionExpired, ErrSolutionExpired, http.StatusBadRequest},
		{"SolutionTooManyAttempts", func() *Error { return SolutionTooManyAttempts(5) }, ErrSolutionTooManyAttempts, http.StatusBadRequest},
		{"SolutionIncorrect", func() *Error { return SolutionIncorrect(1, 4) }, ErrSolutionIncorrect, http.StatusBadRequest},
		{"SystemInternal", func() *Error { return SystemInternal("") }, ErrSystemInternal, http.StatusInternalServerError},
		{"SystemUnavailable", func() *Error { return SystemUnavailable("") }, ErrSystemUnavailable, http.StatusServiceUnavailable},
		{"SystemTimeout", func() *Error { return SystemTimeout("") }, ErrSystemTimeout, http.StatusRequestTimeout},
		{"ValidationInvalidJSON", ValidationInvalidJSON, ErrValidationInvalidJSON, http.StatusBadRequest},
		{"ValidationInvalidFormat", func() *Error { return ValidationInvalidFormat("") }, ErrValidationInvalidFormat, http.StatusBadRequest},
		{"ValidationMissingField", func() *Error { return ValidationMissingField("id") }, ErrValidationMissingField, http.StatusBadRequest},
		{"ValidationInvalidValue", func() *Error { return ValidationInvalidValue("x", "") }, ErrValidationInvalidValue, http.StatusBadRequest},
		{"ValidationBodyTooLarge", func() *Error { return ValidationBodyTooLarge(4096) }, ErrValidationBodyTooLarge, http.StatusRequestEntityTooLarge},
		{"RateLimitGlobal", RateLimitGlobal, ErrRateLimitGlobal, http.StatusTooManyRequests},
		{"RateLimitIP", RateLimitIP, ErrRateLimitIP, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createErr()
			if err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code)
			}
			if err.Status() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, err.Status())
			}
			if err.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestSolutionTooManyAttemptsDetails(t *testing.T) {
	err := SolutionTooManyAttempts(5)
	if err.Details["attempts"] != uint32(5) || err.Details["remaining"] != 0 {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestWriteErrorWithContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/puzzle/solution", nil)
	req = req.WithContext(context.WithValue(req.Context(), logger.RequestIDKey, "ctx-req-42"))
	w := httptest.NewRecorder()

	WriteErrorWithContext(w, req, SolutionInvalidID())

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.RequestID != "ctx-req-42" {
		t.Errorf("expected request id from context, got %q", resp.Error.RequestID)
	}
}

func TestGetRequestID(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty request id, got %q", id)
	}
	ctx := context.WithValue(context.Background(), logger.RequestIDKey, "abc")
	if id := GetRequestID(ctx); id != "abc" {
		t.Errorf("expected abc, got %q", id)
	}
}
