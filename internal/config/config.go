package config

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Detector:  defaultDetectorConfig(),
		Output: OutputConfig{
			Format:              "text",
			ConfidencePrecision: 2,
		},
		Server: ServerConfig{
			Host:               "localhost",
			Port:               8080,
			CORSOrigin:         "*",
			MaxUploadMB:        50,
			TimeoutSec:         30,
			ShutdownTimeout:    10,
			PoolSize:           1,
			AcquireTimeoutSec:  5,
			RateLimitEnabled:   false,
			RequestsPerMinute:  60,
			RequestsPerHour:    1000,
			MaxRequestsPerDay:  0,
			MaxDataPerDayBytes: 0,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// defaultDetectorConfig returns default detector configuration.
func defaultDetectorConfig() DetectorConfig {
	cfg := detector.DefaultConfig()
	return DetectorConfig{
		TopHits:       0,
		MinConfidence: 0.5,
		Channels:      3,
		BoxesOutput:   cfg.Outputs.Boxes,
		ClassesOutput: cfg.Outputs.Classes,
		ScoresOutput:  cfg.Outputs.Scores,
		NumThreads:    cfg.NumThreads,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatCSV}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.ConfidencePrecision < 0 || c.Output.ConfidencePrecision > 6 {
		return fmt.Errorf("invalid confidence precision: %d (must be between 0 and 6)", c.Output.ConfidencePrecision)
	}

	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}

	if c.GPU.Device < 0 {
		return fmt.Errorf("invalid GPU device: %d (must be >= 0)", c.GPU.Device)
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	return nil
}

func (c *Config) validateDetector() error {
	d := c.Detector
	if err := validateThreshold(d.MinConfidence, "detector.min_confidence"); err != nil {
		return err
	}
	if d.InputWidth < 0 || d.InputHeight < 0 || (d.InputWidth == 0) != (d.InputHeight == 0) {
		return fmt.Errorf("invalid detector input size: %dx%d (must be both zero or both positive)", d.InputWidth, d.InputHeight)
	}
	if d.Channels != 1 && d.Channels != 3 && d.Channels != 4 {
		return fmt.Errorf("invalid detector channels: %d (must be 1, 3 or 4)", d.Channels)
	}
	if d.NumThreads < 0 {
		return fmt.Errorf("invalid detector num threads: %d (must be >= 0)", d.NumThreads)
	}
	if d.FrameTimeoutMs < 0 {
		return fmt.Errorf("invalid frame timeout: %d (must be >= 0)", d.FrameTimeoutMs)
	}
	if d.WarmupIterations < 0 {
		return fmt.Errorf("invalid warmup iterations: %d (must be >= 0)", d.WarmupIterations)
	}
	return nil
}

func (c *Config) validateServer() error {
	s := c.Server
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", s.MaxUploadMB)
	}
	if s.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", s.TimeoutSec)
	}
	if s.PoolSize <= 0 {
		return fmt.Errorf("invalid pipeline pool size: %d (must be positive)", s.PoolSize)
	}
	if s.RateLimitEnabled && s.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid requests per minute: %d (must be positive when rate limiting)", s.RequestsPerMinute)
	}
	return nil
}

// ToPipelineConfig converts the config to the internal pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = c.ModelsDir
	cfg.LabelsPath = c.Detector.LabelsPath
	if cfg.LabelsPath == "" {
		cfg.LabelsPath = models.GetLabelsPath(c.ModelsDir)
	}
	cfg.Detector = c.toDetectorConfig()
	cfg.Decode = detector.DecodeOptions{
		MinConfidence: float32(c.Detector.MinConfidence),
		TopHits:       c.Detector.TopHits,
	}
	cfg.InputWidth = c.Detector.InputWidth
	cfg.InputHeight = c.Detector.InputHeight
	if c.Detector.Channels > 0 {
		cfg.Channels = c.Detector.Channels
	}
	cfg.FrameTimeout = time.Duration(c.Detector.FrameTimeoutMs) * time.Millisecond
	cfg.WarmupIterations = c.Detector.WarmupIterations
	return cfg
}

// toDetectorConfig converts to detector.Config.
func (c *Config) toDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if c.ModelsDir != "" {
		cfg.UpdateModelPath(c.ModelsDir)
	}
	if c.Detector.ModelPath != "" {
		cfg.ModelPath = c.Detector.ModelPath
	}
	cfg.InputName = c.Detector.InputName
	if c.Detector.BoxesOutput != "" {
		cfg.Outputs.Boxes = c.Detector.BoxesOutput
	}
	if c.Detector.ClassesOutput != "" {
		cfg.Outputs.Classes = c.Detector.ClassesOutput
	}
	if c.Detector.ScoresOutput != "" {
		cfg.Outputs.Scores = c.Detector.ScoresOutput
	}
	cfg.NumThreads = c.Detector.NumThreads

	cfg.GPU.UseGPU = c.GPU.Enabled
	cfg.GPU.DeviceID = c.GPU.Device
	if limit, err := ParseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPU.MemLimit = limit
	}
	return cfg
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if math.IsNaN(value) || value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a GPU memory limit such as "512MB" or "1.5GB" to
// bytes. "auto" and "" mean no limit and yield 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	s := strings.ToUpper(strings.TrimSpace(limit))
	if s == "" || s == "AUTO" {
		return 0, nil
	}

	// Longest suffix first so "MB" is not read as "B".
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
		if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
