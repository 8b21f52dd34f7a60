package detector

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/spotter/internal/models"
	"github.com/MeKo-Tech/spotter/internal/onnx"
)

// Default output tensor names of TensorFlow object detection exports.
const (
	DefaultBoxesOutput   = "detection_boxes"
	DefaultClassesOutput = "detection_classes"
	DefaultScoresOutput  = "detection_scores"
)

// Config holds configuration for loading a detection model.
type Config struct {
	ModelPath   string         // Path to the ONNX SSD model
	LibraryPath string         // ONNX Runtime shared library, "" = auto-discover
	InputName   string         // Input tensor name, "" = the model's only input
	Outputs     FetchPlan      // Boxes, classes and scores output names
	NumThreads  int            // Intra-op threads, 0 = runtime default
	GPU         onnx.GPUConfig // CUDA execution provider
}

// DefaultConfig returns a configuration pointing at the default model.
func DefaultConfig() Config {
	return Config{
		ModelPath: models.GetDetectionModelPath(""),
		Outputs: FetchPlan{
			Boxes:   DefaultBoxesOutput,
			Classes: DefaultClassesOutput,
			Scores:  DefaultScoresOutput,
		},
		GPU: onnx.DefaultGPUConfig(),
	}
}

// UpdateModelPath re-resolves ModelPath against modelsDir.
func (c *Config) UpdateModelPath(modelsDir string) {
	c.ModelPath = models.GetDetectionModelPath(modelsDir)
}

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.Outputs.Boxes == "" || c.Outputs.Classes == "" || c.Outputs.Scores == "" {
		return errors.New("boxes, classes and scores output names are required")
	}
	if c.Outputs.Boxes == c.Outputs.Classes || c.Outputs.Boxes == c.Outputs.Scores ||
		c.Outputs.Classes == c.Outputs.Scores {
		return fmt.Errorf("output names must be distinct: %v", c.Outputs.Names())
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be >= 0, got %d", c.NumThreads)
	}
	return c.GPU.Validate()
}
