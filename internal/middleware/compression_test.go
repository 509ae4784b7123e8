package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"testing"

	"github.com/andybalholm/brotli"
)

// samplePuzzlePayload approximates a challenge response: base64 image data in JSON.
func samplePuzzlePayload() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"id":"3f1c9a52-7a0e-4bd1-9a6f-6a3d0c1b2e44","y":0.4212,"puzzle_image":[`)
	for i := 0; i < 4000; i++ {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(strconv.Itoa(i % 17))
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

func TestNegotiateEncoding(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"gzip", "gzip"},
		{"br", "br"},
		{"gzip, deflate, br", "br"},
		{"br;q=0, gzip", "gzip"},
		{"deflate", ""},
		{"*", "br"},
		{"GZIP", "gzip"},
	}
	for _, tt := range tests {
		if got := negotiateEncoding(tt.header); got != tt.want {
			t.Errorf("negotiateEncoding(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCompress_RoundTrip(t *testing.T) {
	payload := samplePuzzlePayload()
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))

	tests := []struct {
		name           string
		acceptEncoding string
		expected       string
		decode         func(io.Reader) (io.Reader, error)
	}{
		{
			name:           "gzip",
			acceptEncoding: "gzip",
			expected:       "gzip",
			decode:         func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
		},
		{
			name:           "brotli preferred",
			acceptEncoding: "gzip, br",
			expected:       "br",
			decode:         func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil },
		},
		{
			name:           "identity",
			acceptEncoding: "",
			expected:       "",
			decode:         func(r io.Reader) (io.Reader, error) { return r, nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/puzzle", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Content-Encoding"); got != tt.expected {
				t.Fatalf("Content-Encoding = %q, want %q", got, tt.expected)
			}
			if !slices.Contains(rr.Header().Values("Vary"), "Accept-Encoding") {
				t.Error("expected Vary: Accept-Encoding")
			}

			compressedSize := rr.Body.Len()
			reader, err := tt.decode(rr.Body)
			if err != nil {
				t.Fatalf("decoder: %v", err)
			}
			body, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !bytes.Equal(body, payload) {
				t.Fatal("decoded body does not match payload")
			}
			if tt.expected != "" && compressedSize >= len(payload) {
				t.Errorf("compressed size %d not smaller than %d", compressedSize, len(payload))
			}
		})
	}
}

func TestCompress_NoContentUntouched(t *testing.T) {
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/puzzle", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "" {
		t.Error("204 responses must not carry Content-Encoding")
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %d bytes", rr.Body.Len())
	}
}

func TestCompress_SkipsWebSocketUpgrade(t *testing.T) {
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(*compressWriter); ok {
			t.Error("upgrade requests must receive the original writer")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats/stream", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Accept-Encoding", "gzip")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func BenchmarkCompress(b *testing.B) {
	payload := samplePuzzlePayload()
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))

	for _, enc := range []string{"gzip", "br"} {
		b.Run(enc, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				req := httptest.NewRequest(http.MethodGet, "/puzzle", nil)
				req.Header.Set("Accept-Encoding", enc)
				handler.ServeHTTP(httptest.NewRecorder(), req)
			}
		})
	}
}
