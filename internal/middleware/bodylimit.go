package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/onnwee/slider-captcha/internal/apierr"
)

// LimitBody caps request bodies at maxBytes. Handlers see *http.MaxBytesError
// from their reader once the cap is crossed.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && maxBytes > 0 {
				if r.ContentLength > maxBytes {
					apierr.WriteErrorWithContext(w, r, apierr.ValidationBodyTooLarge(maxBytes))
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DecodeJSON decodes a single JSON document from the request body into dst.
// The returned *apierr.Error is ready to be written to the client.
func DecodeJSON(r *http.Request, dst any) *apierr.Error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return apierr.ValidationInvalidFormat("Content-Type must be application/json")
		}
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierr.ValidationBodyTooLarge(maxErr.Limit)
		}
		return apierr.ValidationInvalidJSON()
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apierr.ValidationInvalidJSON()
	}
	return nil
}
