package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// detectionPipeline defines the methods needed by the server from a pipeline.
type detectionPipeline interface {
	Analyze(ctx context.Context, f *frame.Frame) (*pipeline.FrameResult, error)
	ModelInfo() pipeline.ModelInfo
	Labels() *labels.Table
	Stats() pipeline.ProfileSnapshot
	Busy() bool
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pool         *PipelinePool
	info         pipeline.ModelInfo
	labels       *labels.Table
	modelsDir    string
	corsOrigin   string
	maxUploadMB  int64
	timeoutSec   int
	frameTimeout time.Duration
	precision    int
	rateLimiter  *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host                string
	Port                int
	CORSOrigin          string
	MaxUploadMB         int64
	TimeoutSec          int
	ConfidencePrecision int
	PipelineConfig      pipeline.Config

	// Pipelines in the pool; each HTTP request or websocket stream holds
	// one exclusively.
	PoolSize       int
	AcquireTimeout time.Duration

	RateLimitEnabled  bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ModelInfo describes a model artifact known to the server.
type ModelInfo struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Loaded      bool        `json:"loaded"`
	Config      interface{} `json:"config,omitempty"`
}

// ModelsResponse is returned by /models.
type ModelsResponse struct {
	Models []ModelInfo        `json:"models"`
	Count  int                `json:"count"`
	Pool   PoolStats          `json:"pool"`
	Active pipeline.ModelInfo `json:"active"`
}

// LabelsResponse is returned by /labels.
type LabelsResponse struct {
	Source string   `json:"source"`
	Count  int      `json:"count"`
	Labels []string `json:"labels"`
}

// DetectResponse wraps a detection result or an error.
type DetectResponse struct {
	Success bool                `json:"success"`
	Result  *pipeline.FrameJSON `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// NewServer builds the pipeline pool from config and returns a server.
func NewServer(config Config) (*Server, error) {
	cfg := config.PipelineConfig
	return NewServerWithFactory(config, BuilderFactory(func() *pipeline.Builder {
		return pipeline.NewBuilderFromConfig(cfg)
	}))
}

// BuilderFactory returns a PipelineFactory that builds each pooled pipeline
// from a fresh builder.
func BuilderFactory(newBuilder func() *pipeline.Builder) PipelineFactory {
	return func() (detectionPipeline, error) {
		p, err := newBuilder().Build()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// NewServerWithFactory is NewServer with a custom pipeline constructor.
func NewServerWithFactory(config Config, factory PipelineFactory) (*Server, error) {
	pool, err := NewPipelinePool(factory, config.PoolSize, config.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	s := &Server{
		pool:         pool,
		modelsDir:    config.PipelineConfig.ModelsDir,
		corsOrigin:   config.CORSOrigin,
		maxUploadMB:  config.MaxUploadMB,
		timeoutSec:   config.TimeoutSec,
		frameTimeout: config.PipelineConfig.FrameTimeout,
		precision:    config.ConfidencePrecision,
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 50
	}
	if s.timeoutSec <= 0 {
		s.timeoutSec = 30
	}

	// Every pipeline in the pool shares model and labels, so any one of them
	// describes the server.
	p, err := pool.Acquire(context.Background())
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("inspect pipeline: %w", err)
	}
	s.info = p.ModelInfo()
	s.labels = p.Labels()
	pool.Release(p)

	if config.RateLimitEnabled {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, config.RequestsPerHour,
			config.MaxRequestsPerDay, config.MaxDataPerDay)
	}

	slog.Info("Detection server ready",
		"model", s.info.ModelPath,
		"labels", s.labels.Len(),
		"pool_size", pool.Size(),
		"rate_limit", config.RateLimitEnabled)
	return s, nil
}

// RateLimiter returns the request limiter, or nil when rate limiting is off.
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// Close releases server resources.
func (s *Server) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/labels", s.corsMiddleware(s.labelsHandler))
	mux.HandleFunc("/detect/image", s.corsMiddleware(s.rateLimitMiddleware(s.detectImageHandler)))
	mux.HandleFunc("/ws/detect", s.rateLimitMiddleware(s.detectWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
