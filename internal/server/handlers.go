package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/MeKo-Tech/spotter/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

// modelsHandler returns the known artifacts and the model currently served.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := models.ListAvailableModels()
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		path := models.ResolvePath(s.modelsDir, info.Type, info.Filename)
		list[i] = ModelInfo{
			Name:        info.Name,
			Path:        path,
			Type:        info.Type,
			Description: info.Description,
			Loaded:      path == s.info.ModelPath,
		}
	}

	response := ModelsResponse{
		Models: list,
		Count:  len(list),
		Active: s.info,
	}
	if s.pool != nil {
		response.Pool = s.pool.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

// labelsHandler returns the label table in use.
func (s *Server) labelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.labels == nil {
		s.writeErrorResponse(w, "labels not loaded", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, LabelsResponse{
		Source: s.labels.Source(),
		Count:  s.labels.Len(),
		Labels: s.labels.Names(),
	})
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, detector.ErrInferenceTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrPipelineBusy),
		errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrPoolClosed),
		errors.Is(err, pipeline.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, detector.ErrUnsupportedBatchSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, DetectResponse{Success: false, Error: message})
}
