// Package pipeline adapts frames to a detection model, runs it and decodes
// the result into ranked detections.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/models"
)

var (
	// ErrPipelineBusy is returned while an abandoned (timed out) inference is
	// still running on this pipeline.
	ErrPipelineBusy = errors.New("pipeline busy")

	// ErrPipelineClosed is returned after Close.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// Config holds configuration for the pipeline and its components.
type Config struct {
	ModelsDir        string
	LabelsPath       string // "" = embedded COCO labels
	Detector         detector.Config
	Decode           detector.DecodeOptions
	InputWidth       int // network input width, 0 = model's static size or frame size
	InputHeight      int
	Channels         int           // channels fed to the network (default 3)
	FrameTimeout     time.Duration // per-frame deadline in Run, 0 = none
	WarmupIterations int           // forward passes on a blank frame at build time
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		ModelsDir: models.GetModelsDir(""),
		Detector:  detector.DefaultConfig(),
		Channels:  3,
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg         Config
	modelPinned bool
	labels      *labels.Table
	engine      detector.Engine
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(cfg Config) *Builder {
	return &Builder{cfg: cfg, modelPinned: cfg.Detector.ModelPath != ""}
}

// WithModelsDir sets the models directory and re-resolves the default model
// unless a model path was set explicitly.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir == "" {
		return b
	}
	b.cfg.ModelsDir = dir
	if !b.modelPinned {
		b.cfg.Detector.UpdateModelPath(dir)
	}
	return b
}

// WithModelPath sets the ONNX model path.
func (b *Builder) WithModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
		b.modelPinned = true
	}
	return b
}

// WithLabelsPath sets the label file.
func (b *Builder) WithLabelsPath(path string) *Builder {
	if path != "" {
		b.cfg.LabelsPath = path
	}
	return b
}

// WithLabels uses an already loaded table instead of LabelsPath.
func (b *Builder) WithLabels(t *labels.Table) *Builder {
	b.labels = t
	return b
}

// WithTopHits caps the number of candidate slots decoded, <= 0 = all.
func (b *Builder) WithTopHits(n int) *Builder {
	b.cfg.Decode.TopHits = n
	return b
}

// WithMinConfidence sets the strict confidence threshold.
func (b *Builder) WithMinConfidence(c float32) *Builder {
	b.cfg.Decode.MinConfidence = c
	return b
}

// WithInputSize sets the network input size; 0x0 defers to the model.
func (b *Builder) WithInputSize(width, height int) *Builder {
	b.cfg.InputWidth = width
	b.cfg.InputHeight = height
	return b
}

// WithChannels sets the channel count fed to the network.
func (b *Builder) WithChannels(c int) *Builder {
	if c > 0 {
		b.cfg.Channels = c
	}
	return b
}

// WithOutputNames overrides the boxes, classes and scores output names.
func (b *Builder) WithOutputNames(boxes, classes, scores string) *Builder {
	if boxes != "" {
		b.cfg.Detector.Outputs.Boxes = boxes
	}
	if classes != "" {
		b.cfg.Detector.Outputs.Classes = classes
	}
	if scores != "" {
		b.cfg.Detector.Outputs.Scores = scores
	}
	return b
}

// WithInputName selects the model input by name.
func (b *Builder) WithInputName(name string) *Builder {
	b.cfg.Detector.InputName = name
	return b
}

// WithThreads sets the intra-op thread count.
func (b *Builder) WithThreads(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.NumThreads = n
	}
	return b
}

// WithFrameTimeout sets the per-frame deadline used by Run.
func (b *Builder) WithFrameTimeout(d time.Duration) *Builder {
	b.cfg.FrameTimeout = d
	return b
}

// WithWarmupIterations sets the number of warmup passes.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithGPU enables or disables CUDA.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	return b
}

// WithGPUDevice selects the CUDA device.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	b.cfg.Detector.GPU.DeviceID = deviceID
	return b
}

// WithGPUMemoryLimit caps the CUDA arena, 0 = unlimited.
func (b *Builder) WithGPUMemoryLimit(limitBytes uint64) *Builder {
	b.cfg.Detector.GPU.MemLimit = limitBytes
	return b
}

// WithEngine injects a ready engine, bypassing model loading.
func (b *Builder) WithEngine(e detector.Engine) *Builder {
	b.engine = e
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration without loading anything.
func (b *Builder) Validate() error {
	if err := b.cfg.Decode.Validate(); err != nil {
		return err
	}
	if (b.cfg.InputWidth == 0) != (b.cfg.InputHeight == 0) || b.cfg.InputWidth < 0 || b.cfg.InputHeight < 0 {
		return fmt.Errorf("input size must be both zero or both positive, got %dx%d", b.cfg.InputWidth, b.cfg.InputHeight)
	}
	if b.cfg.Channels != 1 && b.cfg.Channels != 3 && b.cfg.Channels != 4 {
		return fmt.Errorf("channels must be 1, 3 or 4, got %d", b.cfg.Channels)
	}
	if b.cfg.FrameTimeout < 0 {
		return errors.New("frame timeout must be >= 0")
	}
	if b.engine == nil {
		if err := b.cfg.Detector.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Pipeline is one detection stream: a session, a decoder and the scratch
// buffer used for resizing. A pipeline handles one frame at a time; use one
// pipeline per concurrent stream.
type Pipeline struct {
	cfg      Config
	session  *detector.Session
	decoder  *detector.Decoder
	scratch  frame.Scratch
	targetW  int
	targetH  int
	profiler Profiler

	mu     sync.Mutex // held for the duration of a frame
	busy   atomic.Bool
	closed bool
}

// Build loads labels and the model and returns a ready pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	table := b.labels
	if table == nil {
		t, err := labels.LoadOrDefault(b.cfg.LabelsPath)
		if err != nil {
			return nil, fmt.Errorf("load labels: %w", err)
		}
		table = t
	}
	dec, err := detector.NewDecoder(table, b.cfg.Decode)
	if err != nil {
		return nil, err
	}

	engine := b.engine
	if engine == nil {
		e, err := detector.NewONNXEngine(b.cfg.Detector)
		if err != nil {
			return nil, fmt.Errorf("init detector: %w", err)
		}
		engine = e
	}
	sess, err := detector.NewSession(engine)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: b.cfg, session: sess, decoder: dec}
	p.targetW, p.targetH = b.cfg.InputWidth, b.cfg.InputHeight
	if p.targetW == 0 {
		if w, h, ok := sess.IO().FixedInputSize(); ok {
			p.targetW, p.targetH = w, h
		}
	}

	if b.cfg.WarmupIterations > 0 {
		if err := sess.Warmup(p.targetW, p.targetH, b.cfg.Channels, b.cfg.WarmupIterations); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("detector warmup failed: %w", err)
		}
	}

	slog.Debug("Pipeline ready",
		"model", b.cfg.Detector.ModelPath,
		"labels", table.Source(),
		"label_count", table.Len(),
		"input_width", p.targetW,
		"input_height", p.targetH,
		"top_hits", b.cfg.Decode.TopHits,
		"min_confidence", b.cfg.Decode.MinConfidence)
	return p, nil
}

// Close releases the session. It waits for an in-flight frame to finish.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.scratch.Release()
	return p.session.Close()
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Labels returns the label table in use.
func (p *Pipeline) Labels() *labels.Table { return p.decoder.Labels() }

// Stats returns cumulative timing counters.
func (p *Pipeline) Stats() ProfileSnapshot { return p.profiler.Snapshot() }

// ModelInfo describes the loaded model and decoding settings.
type ModelInfo struct {
	ModelPath     string   `json:"model_path"`
	InputName     string   `json:"input_name"`
	InputDims     []int64  `json:"input_dims"`
	Outputs       []string `json:"outputs"`
	InputWidth    int      `json:"input_width"`
	InputHeight   int      `json:"input_height"`
	Channels      int      `json:"channels"`
	Labels        int      `json:"labels"`
	LabelsSource  string   `json:"labels_source"`
	TopHits       int      `json:"top_hits"`
	MinConfidence float32  `json:"min_confidence"`
	GPU           bool     `json:"gpu"`
}

// Busy reports whether a frame is running, including an inference that was
// abandoned at its deadline and has not returned yet.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// ModelInfo returns information about the loaded model.
func (p *Pipeline) ModelInfo() ModelInfo {
	io := p.session.IO()
	return ModelInfo{
		ModelPath:     p.cfg.Detector.ModelPath,
		InputName:     io.InputName,
		InputDims:     io.InputDims,
		Outputs:       io.Outputs.Names(),
		InputWidth:    p.targetW,
		InputHeight:   p.targetH,
		Channels:      p.cfg.Channels,
		Labels:        p.decoder.Labels().Len(),
		LabelsSource:  p.decoder.Labels().Source(),
		TopHits:       p.cfg.Decode.TopHits,
		MinConfidence: p.cfg.Decode.MinConfidence,
		GPU:           p.cfg.Detector.GPU.UseGPU,
	}
}
