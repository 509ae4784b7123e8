package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/onnwee/slider-captcha/internal/apierr"
	"github.com/onnwee/slider-captcha/internal/captcha"
	"github.com/onnwee/slider-captcha/internal/generator"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/middleware"
	"github.com/onnwee/slider-captcha/internal/puzzle"
)

const (
	defaultWidth  = 500
	defaultHeight = 300
)

// CaptchaService is the part of *captcha.Service the handlers call.
type CaptchaService interface {
	Issue(ctx context.Context, dims puzzle.Dimensions) (captcha.Challenge, error)
	Verify(ctx context.Context, id string, x float64, clientIP string) captcha.Result
}

// DimensionLimits bound the puzzle sizes a client may request.
type DimensionLimits struct {
	Min int
	Max int
}

// PuzzleHandler serves challenge issue and verification.
type PuzzleHandler struct {
	svc    CaptchaService
	limits DimensionLimits
}

// NewPuzzleHandler creates a handler. Limits fall back to 100 and 2000.
func NewPuzzleHandler(svc CaptchaService, limits DimensionLimits) *PuzzleHandler {
	if limits.Min <= 0 {
		limits.Min = 100
	}
	if limits.Max < limits.Min {
		limits.Max = max(2000, limits.Min)
	}
	return &PuzzleHandler{svc: svc, limits: limits}
}

type solutionRequest struct {
	ID string   `json:"id"`
	X  *float64 `json:"x"`
}

type solutionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// parseSide reads one query dimension: missing means def, below min is raised to min,
// above max is rejected.
func (h *PuzzleHandler) parseSide(r *http.Request, name string, def int) (uint32, *apierr.Error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uint32(max(def, h.limits.Min)), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.ValidationInvalidValue(name, "must be a non-negative integer")
	}
	if n > h.limits.Max {
		return 0, apierr.PuzzleInvalidDimensions(h.limits.Min, h.limits.Max)
	}
	return uint32(max(n, h.limits.Min)), nil
}

// GetPuzzle handles GET /puzzle?w=&h=
func (h *PuzzleHandler) GetPuzzle(w http.ResponseWriter, r *http.Request) {
	width, apiErr := h.parseSide(r, "w", defaultWidth)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	height, apiErr := h.parseSide(r, "h", defaultHeight)
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	dims := puzzle.Dimensions{Width: width, Height: height}

	log := logger.WithRequestID(r.Context())
	challenge, err := h.svc.Issue(r.Context(), dims)
	if err != nil {
		switch {
		case errors.Is(err, generator.ErrBusy), errors.Is(err, generator.ErrUnavailable):
			log.Warn("no puzzle available", "dimensions", dims.String(), "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.PuzzleBusy())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Debug("client went away before puzzle was ready", "dimensions", dims.String())
			apierr.WriteErrorWithContext(w, r, apierr.SystemTimeout(""))
		default:
			log.Error("issue puzzle failed", "dimensions", dims.String(), "error", err)
			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		}
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

// PostSolution handles POST /puzzle/solution
func (h *PuzzleHandler) PostSolution(w http.ResponseWriter, r *http.Request) {
	var req solutionRequest
	if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	if req.ID == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("id"))
		return
	}
	if req.X == nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("x"))
		return
	}

	res := h.svc.Verify(r.Context(), req.ID, *req.X, middleware.ClientIP(r))
	switch res.Outcome {
	case captcha.OutcomeVerified:
		writeJSON(w, http.StatusOK, solutionResponse{Success: true, Message: "Verification successful"})
	case captcha.OutcomeIncorrect:
		apierr.WriteErrorWithContext(w, r, apierr.SolutionIncorrect(res.Attempts, res.Remaining))
	case captcha.OutcomeExhausted:
		apierr.WriteErrorWithContext(w, r, apierr.SolutionTooManyAttempts(res.Attempts))
	case captcha.OutcomeExpired:
		apierr.WriteErrorWithContext(w, r, apierr.SolutionExpired())
	default:
		apierr.WriteErrorWithContext(w, r, apierr.SolutionInvalidID())
	}
}
