package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/slider-captcha/internal/api/handlers"
	"github.com/onnwee/slider-captcha/internal/middleware"
	"github.com/onnwee/slider-captcha/internal/puzzle"
)

// Deps carries everything the router hands to its handlers.
type Deps struct {
	Captcha      handlers.CaptchaService
	Stats        handlers.SnapshotSource
	Hub          *handlers.StatsHub // nil disables /ws/stats
	Limits       handlers.DimensionLimits
	PrefillSizes []puzzle.Dimensions
	CORS         *middleware.CORSConfig
	RateLimiter  *middleware.RateLimiter // nil disables rate limiting
	MaxBodyBytes int64
}

func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RecoverWithSentry,
		middleware.Instrument,
		middleware.SecurityHeaders,
		middleware.CORS(d.CORS),
	)

	// Liveness and scraping stay outside the rate limiter.
	r.Handle("/health", handlers.Health(d.PrefillSizes)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if d.Hub != nil {
		r.HandleFunc("/ws/stats", d.Hub.ServeWS).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Limit)
	}
	api.Use(middleware.Compress)

	// Puzzle
	puzzles := handlers.NewPuzzleHandler(d.Captcha, d.Limits)
	api.HandleFunc("/puzzle", puzzles.GetPuzzle).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/puzzle/solution", middleware.LimitBody(d.MaxBodyBytes)(http.HandlerFunc(puzzles.PostSolution))).
		Methods(http.MethodPost, http.MethodOptions)

	// Stats
	api.Handle("/stats", handlers.Stats(d.Stats)).Methods(http.MethodGet)

	return r
}
