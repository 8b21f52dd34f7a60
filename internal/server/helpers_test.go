package server

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MeKo-Tech/spotter/internal/detector/fake"
	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/onnx/mock"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/stretchr/testify/require"
)

// engineRecorder keeps the fake engines behind every pooled pipeline.
type engineRecorder struct {
	mu      sync.Mutex
	engines []*fake.Engine
}

func (r *engineRecorder) all() []*fake.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fake.Engine(nil), r.engines...)
}

// testFactory builds real pipelines over fake engines answering with out.
func testFactory(out mock.Outputs, configure func(*pipeline.Builder)) (PipelineFactory, *engineRecorder) {
	rec := &engineRecorder{}
	return BuilderFactory(func() *pipeline.Builder {
		eng := fake.New(out)
		rec.mu.Lock()
		rec.engines = append(rec.engines, eng)
		rec.mu.Unlock()

		b := pipeline.NewBuilder().WithEngine(eng).WithLabels(labels.COCO())
		if configure != nil {
			configure(b)
		}
		return b
	}), rec
}

// defaultOutputs is one confident person and one weak dog.
func defaultOutputs() mock.Outputs {
	return mock.NewOutputs([]mock.Candidate{
		{Box: [4]float32{0.1, 0.1, 0.5, 0.5}, Class: 1, Score: 0.9},
		{Box: [4]float32{0.2, 0.2, 0.6, 0.6}, Class: 18, Score: 0.4},
	})
}

func newTestServer(t *testing.T, cfg Config, configure func(*pipeline.Builder)) (*Server, *engineRecorder) {
	t.Helper()
	factory, rec := testFactory(defaultOutputs(), configure)
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 5
	}
	s, err := NewServerWithFactory(cfg, factory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

// createTestImage creates a simple gradient image.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{byte(x % 256), byte(y % 256), 0, 255})
		}
	}
	return img
}

func testFrame(t *testing.T, width, height int) *frame.Frame {
	t.Helper()
	f, err := frame.FromImage(createTestImage(width, height), 3)
	require.NoError(t, err)
	return f
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createMultipartFormRequest creates a multipart form request with an image.
func createMultipartFormRequest(t *testing.T, field string, data []byte, filename string, extra map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for key, value := range extra {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect/image", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
