package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/slider-captcha/internal/apierr"
	"github.com/onnwee/slider-captcha/internal/captcha"
	"github.com/onnwee/slider-captcha/internal/generator"
	"github.com/onnwee/slider-captcha/internal/puzzle"
)

var fixedArtifact = puzzle.SynthesizerFunc(func(d puzzle.Dimensions) (*puzzle.Artifact, error) {
	return &puzzle.Artifact{
		PuzzleImage: []byte("puzzle-" + d.String()),
		PieceImage:  []byte("piece"),
		X:           0.5,
		Y:           0.25,
	}, nil
})

// newLiveHandler wires the handler onto a running generator and a real captcha service.
func newLiveHandler(t *testing.T) *PuzzleHandler {
	t.Helper()
	gen := generator.New(generator.Options{Synthesizer: fixedArtifact, Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gen.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	svc := captcha.NewService(gen, captcha.Options{MaxAttempts: 3})
	return NewPuzzleHandler(svc, DimensionLimits{Min: 100, Max: 2000})
}

type challengeBody struct {
	ID          string  `json:"id"`
	PuzzleImage string  `json:"puzzle_image"`
	PieceImage  string  `json:"piece_image"`
	Y           float64 `json:"y"`
}

func issue(t *testing.T, h *PuzzleHandler, query string) (*httptest.ResponseRecorder, challengeBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.GetPuzzle(rr, httptest.NewRequest(http.MethodGet, "/puzzle"+query, nil))
	var body challengeBody
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func submit(h *PuzzleHandler, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/puzzle/solution", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.PostSolution(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) *apierr.Error {
	t.Helper()
	var out apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotNil(t, out.Error)
	return out.Error
}

func TestGetPuzzle_DefaultsAndShape(t *testing.T) {
	h := newLiveHandler(t)

	rr, body := issue(t, h, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, 0.25, body.Y)

	img, err := base64.StdEncoding.DecodeString(body.PuzzleImage)
	require.NoError(t, err)
	assert.Equal(t, "puzzle-500x300", string(img))
	assert.NotContains(t, rr.Body.String(), `"x"`)
}

func TestGetPuzzle_ClampsSmallSides(t *testing.T) {
	h := newLiveHandler(t)

	rr, body := issue(t, h, "?w=10&h=0")
	require.Equal(t, http.StatusOK, rr.Code)
	img, err := base64.StdEncoding.DecodeString(body.PuzzleImage)
	require.NoError(t, err)
	assert.Equal(t, "puzzle-100x100", string(img))
}

func TestGetPuzzle_RejectsBadDimensions(t *testing.T) {
	h := newLiveHandler(t)

	tests := []struct {
		query string
		code  apierr.ErrorCode
	}{
		{"?w=2001", apierr.ErrPuzzleInvalidDimensions},
		{"?h=999999", apierr.ErrPuzzleInvalidDimensions},
		{"?w=wide", apierr.ErrValidationInvalidValue},
		{"?h=-4", apierr.ErrValidationInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr, _ := issue(t, h, tt.query)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
		})
	}
}

func TestPostSolution_Verified(t *testing.T) {
	h := newLiveHandler(t)
	_, ch := issue(t, h, "")

	rr := submit(h, fmt.Sprintf(`{"id":%q,"x":0.505}`, ch.ID))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"message":"Verification successful"}`, rr.Body.String())
}

func TestPostSolution_IncorrectThenExhausted(t *testing.T) {
	h := newLiveHandler(t)
	_, ch := issue(t, h, "")
	wrong := fmt.Sprintf(`{"id":%q,"x":0.9}`, ch.ID)

	for i := 1; i <= 2; i++ {
		rr := submit(h, wrong)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		e := decodeError(t, rr)
		assert.Equal(t, apierr.ErrSolutionIncorrect, e.Code)
		assert.EqualValues(t, i, e.Details["attempts"])
		assert.EqualValues(t, 3-i, e.Details["remaining"])
	}

	rr := submit(h, wrong)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.ErrSolutionTooManyAttempts, decodeError(t, rr).Code)

	// The challenge is gone once exhausted, even for the right answer.
	rr = submit(h, fmt.Sprintf(`{"id":%q,"x":0.5}`, ch.ID))
	assert.Equal(t, apierr.ErrSolutionInvalidID, decodeError(t, rr).Code)
}

func TestPostSolution_UnknownID(t *testing.T) {
	h := newLiveHandler(t)

	rr := submit(h, `{"id":"does-not-exist","x":0.5}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, apierr.ErrSolutionInvalidID, e.Code)
	assert.Equal(t, "Invalid request ID", e.Message)
}

func TestPostSolution_RequestValidation(t *testing.T) {
	h := newLiveHandler(t)

	tests := []struct {
		name string
		body string
		code apierr.ErrorCode
	}{
		{"malformed", `{"id":`, apierr.ErrValidationInvalidJSON},
		{"missing id", `{"x":0.5}`, apierr.ErrValidationMissingField},
		{"missing x", `{"id":"abc"}`, apierr.ErrValidationMissingField},
		{"x not a number", `{"id":"abc","x":"0.5"}`, apierr.ErrValidationInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := submit(h, tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
		})
	}
}

type fakeService struct {
	issueErr error
	result   captcha.Result
	gotIP    string
	gotDims  puzzle.Dimensions
}

func (f *fakeService) Issue(ctx context.Context, dims puzzle.Dimensions) (captcha.Challenge, error) {
	f.gotDims = dims
	if f.issueErr != nil {
		return captcha.Challenge{}, fmt.Errorf("issue %s challenge: %w", dims, f.issueErr)
	}
	return captcha.Challenge{ID: "id"}, nil
}

func (f *fakeService) Verify(ctx context.Context, id string, x float64, clientIP string) captcha.Result {
	f.gotIP = clientIP
	return f.result
}

func TestGetPuzzle_ForwardsRequestedDimensions(t *testing.T) {
	tests := []struct {
		query string
		want  puzzle.Dimensions
	}{
		{"", puzzle.Dimensions{Width: 500, Height: 300}},
		{"?w=640&h=120", puzzle.Dimensions{Width: 640, Height: 120}},
		{"?w=2000&h=2000", puzzle.Dimensions{Width: 2000, Height: 2000}},
		{"?w=1&h=150", puzzle.Dimensions{Width: 100, Height: 150}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			svc := &fakeService{}
			h := NewPuzzleHandler(svc, DimensionLimits{Min: 100, Max: 2000})
			rr, _ := issue(t, h, tt.query)
			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.want, svc.gotDims)
		})
	}
}

func TestGetPuzzle_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apierr.ErrorCode
	}{
		{"busy", generator.ErrBusy, http.StatusServiceUnavailable, apierr.ErrPuzzleBusy},
		{"unavailable", generator.ErrUnavailable, http.StatusServiceUnavailable, apierr.ErrPuzzleBusy},
		{"cancelled", context.Canceled, http.StatusRequestTimeout, apierr.ErrSystemTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError, apierr.ErrSystemInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPuzzleHandler(&fakeService{issueErr: tt.err}, DimensionLimits{})
			rr, _ := issue(t, h, "")
			require.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestPostSolution_OutcomeMapping(t *testing.T) {
	tests := []struct {
		outcome captcha.Outcome
		status  int
		code    apierr.ErrorCode
	}{
		{captcha.OutcomeExpired, http.StatusBadRequest, apierr.ErrSolutionExpired},
		{captcha.OutcomeInvalidID, http.StatusBadRequest, apierr.ErrSolutionInvalidID},
		{captcha.OutcomeExhausted, http.StatusBadRequest, apierr.ErrSolutionTooManyAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			svc := &fakeService{result: captcha.Result{Outcome: tt.outcome, Attempts: 5}}
			h := NewPuzzleHandler(svc, DimensionLimits{})

			req := httptest.NewRequest(http.MethodPost, "/puzzle/solution", strings.NewReader(`{"id":"abc","x":0.1}`))
			req.RemoteAddr = "198.51.100.4:5000"
			rr := httptest.NewRecorder()
			h.PostSolution(rr, req)

			require.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, decodeError(t, rr).Code)
			assert.Equal(t, "198.51.100.4", svc.gotIP)
		})
	}
}
