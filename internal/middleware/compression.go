package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"

	brotliLevel = 5
)

var (
	gzipPool = sync.Pool{New: func() any {
		return gzip.NewWriter(io.Discard)
	}}
	brotliPool = sync.Pool{New: func() any {
		return brotli.NewWriterLevel(io.Discard, brotliLevel)
	}}
)

// negotiateEncoding picks br over gzip, skipping codings the client disabled with q=0.
func negotiateEncoding(header string) string {
	var br, gz bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case encodingBrotli:
			br = true
		case encodingGzip:
			gz = true
		case "*":
			br, gz = true, true
		}
	}
	switch {
	case br:
		return encodingBrotli
	case gz:
		return encodingGzip
	}
	return ""
}

// compressWriter defers the Content-Encoding decision until the status is known,
// so bodiless responses such as 204 are left untouched.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	enc         io.WriteCloser
	compress    bool
	wroteHeader bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	h := w.Header()
	if bodyAllowed(status) && h.Get("Content-Encoding") == "" {
		w.compress = true
		h.Set("Content-Encoding", w.encoding)
		h.Del("Content-Length")
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !w.compress {
		return w.ResponseWriter.Write(b)
	}
	if w.enc == nil {
		w.enc = acquireEncoder(w.encoding, w.ResponseWriter)
	}
	return w.enc.Write(b)
}

// Flush pushes buffered compressed bytes to the client.
func (w *compressWriter) Flush() {
	if f, ok := w.enc.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *compressWriter) close() {
	if w.enc == nil {
		return
	}
	_ = w.enc.Close()
	releaseEncoder(w.encoding, w.enc)
	w.enc = nil
}

func acquireEncoder(encoding string, dst io.Writer) io.WriteCloser {
	if encoding == encodingBrotli {
		bw := brotliPool.Get().(*brotli.Writer)
		bw.Reset(dst)
		return bw
	}
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(dst)
	return gz
}

func releaseEncoder(encoding string, enc io.WriteCloser) {
	if encoding == encodingBrotli {
		brotliPool.Put(enc)
		return
	}
	gzipPool.Put(enc)
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// Compress returns a middleware that encodes responses with brotli or gzip
// according to the client's Accept-Encoding. WebSocket upgrades pass through.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Accept-Encoding")
		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}
