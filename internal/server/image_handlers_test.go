package server

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectImageHandler_JSON(t *testing.T) {
	s, rec := newTestServer(t, Config{}, func(b *pipeline.Builder) { b.WithMinConfidence(0.5) })

	req := createMultipartFormRequest(t, "image", encodePNG(t, createTestImage(200, 100)), "street.png", nil)
	w := httptest.NewRecorder()
	s.detectImageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var response DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.True(t, response.Success)
	require.NotNil(t, response.Result)

	res := response.Result
	assert.Equal(t, "street.png", res.Source)
	assert.Equal(t, 200, res.Width)
	assert.Equal(t, 100, res.Height)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "person", res.Detections[0].Name)
	assert.InDelta(t, 20, res.Detections[0].Box.XMin, 1e-3)
	assert.InDelta(t, 10, res.Detections[0].Box.YMin, 1e-3)

	engines := rec.all()
	require.Len(t, engines, 1)
	assert.Equal(t, 1, engines[0].Runs())
}

func TestDetectImageHandler_Formats(t *testing.T) {
	s, _ := newTestServer(t, Config{ConfidencePrecision: 1}, nil)
	img := encodePNG(t, createTestImage(40, 40))

	t.Run("text", func(t *testing.T) {
		req := createMultipartFormRequest(t, "image", img, "a.png", map[string]string{"format": "text"})
		w := httptest.NewRecorder()
		s.detectImageHandler(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
		lines := strings.Split(w.Body.String(), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "person (90.0%)"))
		assert.True(t, strings.HasPrefix(lines[1], "dog (40.0%)"))
	})

	t.Run("csv", func(t *testing.T) {
		req := createMultipartFormRequest(t, "image", img, "a.png", map[string]string{"format": "csv"})
		w := httptest.NewRecorder()
		s.detectImageHandler(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}

func TestDetectImageHandler_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, Config{MaxUploadMB: 1}, nil)

	t.Run("method", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.detectImageHandler(w, httptest.NewRequest(http.MethodGet, "/detect/image", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("no multipart", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.detectImageHandler(w, httptest.NewRequest(http.MethodPost, "/detect/image", strings.NewReader("x")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong field", func(t *testing.T) {
		req := createMultipartFormRequest(t, "file", encodePNG(t, createTestImage(8, 8)), "a.png", nil)
		w := httptest.NewRecorder()
		s.detectImageHandler(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "No image file provided")
	})

	t.Run("not an image", func(t *testing.T) {
		req := createMultipartFormRequest(t, "image", []byte("definitely not a png"), "a.png", nil)
		w := httptest.NewRecorder()
		s.detectImageHandler(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid image format")
	})

	t.Run("too large", func(t *testing.T) {
		req := createMultipartFormRequest(t, "image", make([]byte, 2<<20), "big.png", nil)
		w := httptest.NewRecorder()
		s.detectImageHandler(w, req)
		assert.GreaterOrEqual(t, w.Code, 400)
	})
}

func TestDetectImageHandler_InferenceFailure(t *testing.T) {
	s, rec := newTestServer(t, Config{}, nil)
	rec.all()[0].RunErr = assert.AnError

	req := createMultipartFormRequest(t, "image", encodePNG(t, createTestImage(16, 16)), "a.png", nil)
	w := httptest.NewRecorder()
	s.detectImageHandler(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var response DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "detection failed")
}

func TestDetectImageHandler_FrameTimeout(t *testing.T) {
	factory, rec := testFactory(defaultOutputs(), func(b *pipeline.Builder) {
		b.WithFrameTimeout(20 * time.Millisecond)
	})
	cfg := Config{TimeoutSec: 5, PipelineConfig: pipeline.Config{FrameTimeout: 20 * time.Millisecond}}
	s, err := NewServerWithFactory(cfg, factory)
	require.NoError(t, err)

	gate := make(chan struct{})
	rec.all()[0].Gate = gate

	req := createMultipartFormRequest(t, "image", encodePNG(t, createTestImage(16, 16)), "a.png", nil)
	w := httptest.NewRecorder()
	s.detectImageHandler(w, req)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	close(gate)
	require.NoError(t, s.Close())
}

func TestDetectImageHandler_PoolExhausted(t *testing.T) {
	s, _ := newTestServer(t, Config{AcquireTimeout: 10 * time.Millisecond}, nil)

	held, err := s.pool.Acquire(t.Context())
	require.NoError(t, err)
	defer s.pool.Release(held)

	req := createMultipartFormRequest(t, "image", encodePNG(t, createTestImage(8, 8)), "a.png", nil)
	w := httptest.NewRecorder()
	s.detectImageHandler(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
