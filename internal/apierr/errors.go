package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/slider-captcha/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// PUZZLE_ - Challenge issuance errors
	ErrPuzzleBusy              ErrorCode = "PUZZLE_BUSY"
	ErrPuzzleInvalidDimensions ErrorCode = "PUZZLE_INVALID_DIMENSIONS"

	// SOLUTION_ - Verification rejections
	ErrSolutionInvalidID       ErrorCode = "SOLUTION_INVALID_ID"
	ErrSolutionExpired         ErrorCode = "SOLUTION_EXPIRED"
	ErrSolutionTooManyAttempts ErrorCode = "SOLUTION_TOO_MANY_ATTEMPTS"
	ErrSolutionIncorrect       ErrorCode = "SOLUTION_INCORRECT"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"
	ErrSystemTimeout     ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON   ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidFormat ErrorCode = "VALIDATION_INVALID_FORMAT"
	ErrValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue  ErrorCode = "VALIDATION_INVALID_VALUE"
	ErrValidationBodyTooLarge  ErrorCode = "VALIDATION_BODY_TOO_LARGE"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	if err.status == http.StatusServiceUnavailable || err.status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(err.Status())
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: err}); encErr != nil {
		logger.Warn("failed to encode error response", "code", string(err.Code), "error", encErr)
	}
}

// PuzzleBusy is returned when no puzzle could be produced in time.
func PuzzleBusy() *Error {
	return New(ErrPuzzleBusy, "Puzzle generation busy, try again later", http.StatusServiceUnavailable)
}

// PuzzleInvalidDimensions rejects a size outside the accepted range.
func PuzzleInvalidDimensions(min, max int) *Error {
	return New(ErrPuzzleInvalidDimensions, "Puzzle dimensions out of range", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"min": min, "max": max})
}

// SolutionInvalidID is returned for unknown or already consumed challenge ids.
func SolutionInvalidID() *Error {
	return New(ErrSolutionInvalidID, "Invalid request ID", http.StatusBadRequest)
}

// SolutionExpired is returned once a challenge's deadline has passed.
func SolutionExpired() *Error {
	return New(ErrSolutionExpired, "Captcha expired", http.StatusBadRequest)
}

// SolutionTooManyAttempts is returned when the attempt ceiling was reached.
func SolutionTooManyAttempts(attempts uint32) *Error {
	return New(ErrSolutionTooManyAttempts, "Too many failed attempts, please request a new captcha", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"attempts": attempts, "remaining": 0})
}

// SolutionIncorrect is returned for a wrong answer with attempts left.
func SolutionIncorrect(attempts, remaining uint32) *Error {
	return New(ErrSolutionIncorrect, "Verification failed", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"attempts": attempts, "remaining": remaining})
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return New(ErrSystemUnavailable, message, http.StatusServiceUnavailable)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusRequestTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidFormat creates an invalid format error
func ValidationInvalidFormat(message string) *Error {
	if message == "" {
		message = "Invalid request format"
	}
	return New(ErrValidationInvalidFormat, message, http.StatusBadRequest)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationBodyTooLarge rejects request bodies over the configured limit.
func ValidationBodyTooLarge(limit int64) *Error {
	return New(ErrValidationBodyTooLarge, "Request body too large", http.StatusRequestEntityTooLarge).
		WithDetails(map[string]interface{}{"limit_bytes": limit})
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
