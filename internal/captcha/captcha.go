// Package captcha issues slider challenges and verifies answers against them.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/slider-captcha/internal/audit"
	"github.com/onnwee/slider-captcha/internal/logger"
	"github.com/onnwee/slider-captcha/internal/metrics"
	"github.com/onnwee/slider-captcha/internal/puzzle"
	"github.com/onnwee/slider-captcha/internal/solution"
	"github.com/onnwee/slider-captcha/internal/tracing"
)

const (
	DefaultTolerance   = 0.015
	DefaultMaxAttempts = 5
	DefaultSolutionTTL = 10 * time.Minute
)

// Outcome is the result class of a verification.
type Outcome int

const (
	OutcomeVerified Outcome = iota
	OutcomeIncorrect
	OutcomeExhausted
	OutcomeExpired
	OutcomeInvalidID
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeIncorrect:
		return "incorrect"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeExpired:
		return "expired"
	case OutcomeInvalidID:
		return "invalid_id"
	default:
		return "unknown"
	}
}

// Result describes a verification. Attempts and Remaining are only meaningful for
// OutcomeIncorrect and OutcomeExhausted.
type Result struct {
	Outcome   Outcome
	Attempts  uint32
	Remaining uint32
}

// Success reports whether the submission was accepted.
func (r Result) Success() bool { return r.Outcome == OutcomeVerified }

// Challenge is what a client receives. The solution x is never part of it.
type Challenge struct {
	ID          string  `json:"id"`
	PuzzleImage []byte  `json:"puzzle_image"`
	PieceImage  []byte  `json:"piece_image"`
	Y           float64 `json:"y"`
}

// Source supplies artifacts and keeps pending solutions. *generator.Generator satisfies it.
type Source interface {
	GetPuzzle(ctx context.Context, dims puzzle.Dimensions) (*puzzle.Artifact, error)
	CacheSolution(id string, solution float64, expiresAt int64)
	GetSolution(id string) (solution.Pending, bool)
	IncrementAttempts(id string) (uint32, bool)
	RemoveSolution(id string) (solution.Pending, bool)
	PendingSolutions() int
}

// Options configures a Service.
type Options struct {
	SolutionTTL      time.Duration
	Tolerance        float64
	MaxAttempts      uint32
	ImmediateCleanup bool
	Recorder         audit.Recorder
	Clock            func() time.Time
	NewID            func() string
}

// Service issues challenges and verifies submissions.
type Service struct {
	src  Source
	opts Options
	log  *slog.Logger
}

// NewService wires a Service onto src. Unset options take the package defaults.
func NewService(src Source, opts Options) *Service {
	if opts.SolutionTTL <= 0 {
		opts.SolutionTTL = DefaultSolutionTTL
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = solution.NewID
	}
	return &Service{src: src, opts: opts, log: logger.WithComponent("captcha")}
}

// Tolerance returns the accepted distance between submission and solution.
func (s *Service) Tolerance() float64 { return s.opts.Tolerance }

// MaxAttempts returns the failed-attempt ceiling.
func (s *Service) MaxAttempts() uint32 { return s.opts.MaxAttempts }

// Issue obtains an artifact for dims and registers its solution under a fresh id.
func (s *Service) Issue(ctx context.Context, dims puzzle.Dimensions) (Challenge, error) {
	ctx, span := tracing.StartSpan(ctx, "captcha.Issue", attribute.String("dimensions", dims.String()))
	defer span.End()

	art, err := s.src.GetPuzzle(ctx, dims)
	if err != nil {
		tracing.RecordError(span, err)
		return Challenge{}, fmt.Errorf("issue %s challenge: %w", dims, err)
	}

	id := s.opts.NewID()
	expiresAt := s.opts.Clock().Add(s.opts.SolutionTTL).Unix()
	s.src.CacheSolution(id, art.X, expiresAt)
	metrics.ChallengesIssued.Inc()
	metrics.PendingSolutions.Set(float64(s.src.PendingSolutions()))

	return Challenge{
		ID:          id,
		PuzzleImage: art.PuzzleImage,
		PieceImage:  art.PieceImage,
		Y:           art.Y,
	}, nil
}

// Verify checks x against the pending solution for id. clientIP is only recorded.
func (s *Service) Verify(ctx context.Context, id string, x float64, clientIP string) Result {
	ctx, span := tracing.StartSpan(ctx, "captcha.Verify")
	defer span.End()

	res := s.verify(id, x)

	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	metrics.VerificationOutcomes.WithLabelValues(res.Outcome.String()).Inc()
	metrics.PendingSolutions.Set(float64(s.src.PendingSolutions()))
	s.opts.Recorder.Record(audit.Event{
		ChallengeID: id,
		Outcome:     res.Outcome.String(),
		Attempts:    res.Attempts,
		ClientIP:    clientIP,
		OccurredAt:  s.opts.Clock(),
	})

	log := logger.WithRequestID(ctx).With("component", "captcha", "outcome", res.Outcome.String())
	switch res.Outcome {
	case OutcomeVerified:
		log.Info("captcha verified")
	case OutcomeIncorrect:
		log.Info("captcha verification failed", "attempts", res.Attempts, "remaining", res.Remaining)
	default:
		log.Warn("captcha verification rejected", "attempts", res.Attempts)
	}
	return res
}

func (s *Service) verify(id string, x float64) Result {
	pending, ok := s.src.GetSolution(id)
	if !ok {
		return Result{Outcome: OutcomeInvalidID}
	}

	if pending.Expired(s.opts.Clock().Unix()) {
		s.src.RemoveSolution(id)
		return Result{Outcome: OutcomeExpired}
	}

	if WithinTolerance(pending.Solution, x, s.opts.Tolerance) {
		if s.opts.ImmediateCleanup {
			// Only one concurrent correct submission may win.
			if _, removed := s.src.RemoveSolution(id); !removed {
				return Result{Outcome: OutcomeInvalidID}
			}
		}
		return Result{Outcome: OutcomeVerified}
	}

	attempts, ok := s.src.IncrementAttempts(id)
	if !ok {
		return Result{Outcome: OutcomeInvalidID}
	}
	if attempts >= s.opts.MaxAttempts {
		s.src.RemoveSolution(id)
		return Result{Outcome: OutcomeExhausted, Attempts: attempts}
	}
	return Result{
		Outcome:   OutcomeIncorrect,
		Attempts:  attempts,
		Remaining: s.opts.MaxAttempts - attempts,
	}
}

// WithinTolerance reports whether submission is strictly closer than tolerance to solution.
func WithinTolerance(solution, submission, tolerance float64) bool {
	if math.IsNaN(submission) || math.IsInf(submission, 0) {
		return false
	}
	return math.Abs(solution-submission) < tolerance
}
