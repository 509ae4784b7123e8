package handlers

import (
	"net/http"

	"github.com/onnwee/slider-captcha/internal/puzzle"
)

type healthResponse struct {
	Status       string              `json:"status"`
	PrefillSizes []puzzle.Dimensions `json:"prefill_sizes"`
}

// Health returns a JSON payload indicating the API is alive, plus the sizes kept warm.
func Health(prefill []puzzle.Dimensions) http.HandlerFunc {
	sizes := append([]puzzle.Dimensions{}, prefill...)
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", PrefillSizes: sizes})
	}
}
