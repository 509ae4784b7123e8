package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/slider-captcha/internal/puzzle"
)

func TestRunGenerateWritesImages(t *testing.T) {
	dir := t.TempDir()
	synth := puzzle.SynthesizerFunc(func(d puzzle.Dimensions) (*puzzle.Artifact, error) {
		return &puzzle.Artifact{PuzzleImage: []byte("PUZZLE"), PieceImage: []byte("PIECE"), X: 0.25, Y: 0.5}, nil
	})

	var out bytes.Buffer
	require.NoError(t, runGenerate(&out, generateOptions{width: 320, height: 180, out: dir}, synth))

	got, err := os.ReadFile(filepath.Join(dir, puzzleFile))
	require.NoError(t, err)
	assert.Equal(t, "PUZZLE", string(got))
	got, err = os.ReadFile(filepath.Join(dir, pieceFile))
	require.NoError(t, err)
	assert.Equal(t, "PIECE", string(got))
	assert.Contains(t, out.String(), "320x180")
	assert.Contains(t, out.String(), "x=0.2500 y=0.5000")
}

func TestRunGenerateRealSynthesizer(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, runGenerate(&out, generateOptions{width: 200, height: 120, out: dir}, puzzle.Default))

	data, err := os.ReadFile(filepath.Join(dir, puzzleFile))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestRunGenerateRejectsBadSize(t *testing.T) {
	for _, opts := range []generateOptions{
		{width: 0, height: 300},
		{width: 500, height: -1},
		{width: maxSide + 1, height: 300},
	} {
		var out bytes.Buffer
		assert.Error(t, runGenerate(&out, generateOptions{width: opts.width, height: opts.height, out: t.TempDir()}, puzzle.Default))
		assert.Empty(t, out.String())
	}
}

func TestPercentile(t *testing.T) {
	var lat []time.Duration
	for i := 1; i <= 100; i++ {
		lat = append(lat, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(lat, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(lat, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(lat, 100))
	assert.Equal(t, 1*time.Millisecond, percentile(lat, 0))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestRunBenchCountsOutcomes(t *testing.T) {
	var n atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1)%2 == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"x"}`))
	}))
	defer ts.Close()

	res, err := runBench(context.Background(), ts.Client(), benchOptions{
		url:         ts.URL,
		width:       500,
		height:      300,
		rps:         200,
		duration:    300 * time.Millisecond,
		concurrency: 4,
		retries:     1,
	})
	require.NoError(t, err)
	assert.Positive(t, res.ok)
	assert.Positive(t, res.busy)
	assert.Zero(t, res.failed)
	assert.Len(t, res.latencies, res.ok+res.busy)

	var out bytes.Buffer
	printBench(&out, benchOptions{duration: 300 * time.Millisecond}, res)
	assert.Contains(t, out.String(), "latency p50=")
}

func TestRunBenchRejectsBadOptions(t *testing.T) {
	_, err := runBench(context.Background(), http.DefaultClient, benchOptions{rps: 0, concurrency: 1, duration: time.Second})
	assert.Error(t, err)
}
