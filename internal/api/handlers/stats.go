package handlers

import (
	"net/http"

	"github.com/onnwee/slider-captcha/internal/generator"
)

// SnapshotSource reports generator state. *generator.Generator satisfies it.
type SnapshotSource interface {
	Snapshot() generator.Snapshot
}

// Stats serves the current generator snapshot.
func Stats(src SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}
}
