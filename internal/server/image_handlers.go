package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
)

// detectImageHandler runs detection on one uploaded image.
func (s *Server) detectImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, source, err := s.parseImageRequest(w, r)
	if err != nil {
		observeFrame(sourceImage, nil, 0, false)
		return // error already written
	}

	if s.pool == nil {
		s.writeErrorResponse(w, "detection pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	pl, err := s.pool.Acquire(ctx)
	if err != nil {
		observeFrame(sourceImage, nil, 0, false)
		s.writeErrorResponse(w, fmt.Sprintf("no pipeline available: %v", err), statusForError(err))
		return
	}
	defer s.pool.Release(pl)

	res, err := s.analyze(ctx, pl, f, sourceImage)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("detection failed: %v", err), statusForError(err))
		return
	}
	res.Source = source

	s.writeImageResponse(w, r, res)
}

// analyze runs one frame under the frame timeout and records metrics.
func (s *Server) analyze(ctx context.Context, pl detectionPipeline, f *frame.Frame, kind string) (*pipeline.FrameResult, error) {
	if s.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.frameTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := pl.Analyze(ctx, f)
	if err != nil {
		observeFrame(kind, nil, 0, statusForError(err) == http.StatusGatewayTimeout)
		return nil, err
	}
	observeFrame(kind, res, time.Since(start), false)
	return res, nil
}

func (s *Server) parseImageRequest(w http.ResponseWriter, r *http.Request) (*frame.Frame, string, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return nil, "", err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, "", err
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, "", fmt.Errorf("upload of %d bytes exceeds limit", header.Size)
	}
	uploadBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, "", err
	}

	f, err := frame.Decode(bytes.NewReader(data), s.channels())
	if err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return nil, "", err
	}
	return f, filepath.Base(header.Filename), nil
}

func (s *Server) channels() int {
	if s.info.Channels > 0 {
		return s.info.Channels
	}
	return 3
}

func (s *Server) writeImageResponse(w http.ResponseWriter, r *http.Request, res *pipeline.FrameResult) {
	// Determine output format: default json; allow 'format' in query or form
	format := r.FormValue("format")
	if format == "" {
		format = r.URL.Query().Get("format")
	}

	switch format {
	case pipeline.FormatCSV:
		s.writeFormatted(w, "text/csv", res, format)
	case pipeline.FormatText:
		s.writeFormatted(w, "text/plain; charset=utf-8", res, format)
	default:
		out := pipeline.NewFrameJSON(res)
		writeJSON(w, http.StatusOK, DetectResponse{Success: true, Result: &out})
	}
}

func (s *Server) writeFormatted(w http.ResponseWriter, contentType string, res *pipeline.FrameResult, format string) {
	body, err := pipeline.Format(res, format, s.precision)
	if err != nil {
		http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(body))
}
