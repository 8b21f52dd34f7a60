// Package models resolves the on-disk location of detection models and label
// files.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact filenames shipped in the models directory.
const (
	DetectionSSDMobileNetV2 = "ssd_mobilenet_v2_coco.onnx"
	DetectionSSDResNet50    = "ssd_resnet50_fpn_coco.onnx"

	LabelsCOCO = "coco_labels.txt"
)

// Directory layout under the models root.
const (
	TypeDetection = "detection"
	TypeLabels    = "labels"
)

// DefaultModelsDir is used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "SPOTTER_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// Info describes a known artifact.
type Info struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory.
// Priority: explicit argument, $SPOTTER_MODELS_DIR, <project root>/models.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolvePath prefers <dir>/<type>/<filename> and falls back to the flat
// <dir>/<filename> layout.
func ResolvePath(modelsDir, artifactType, filename string) string {
	base := GetModelsDir(modelsDir)
	if artifactType != "" {
		organized := filepath.Join(base, artifactType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(base, filename)
}

// GetDetectionModelPath returns the default SSD model path.
func GetDetectionModelPath(modelsDir string) string {
	return ResolvePath(modelsDir, TypeDetection, DetectionSSDMobileNetV2)
}

// GetLabelsPath returns the path of the COCO label file, or "" when it is
// absent so callers can fall back to the embedded table.
func GetLabelsPath(modelsDir string) string {
	p := ResolvePath(modelsDir, TypeLabels, LabelsCOCO)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	st, err := os.Stat(modelPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	if err != nil {
		return fmt.Errorf("cannot stat model file %s: %w", modelPath, err)
	}
	if st.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the artifacts the tool knows about.
func ListAvailableModels() []Info {
	return []Info{
		{
			Name:        "ssd-mobilenet-v2",
			Type:        TypeDetection,
			Description: "SSD MobileNet v2 trained on COCO (uint8 NHWC input)",
			Filename:    DetectionSSDMobileNetV2,
		},
		{
			Name:        "ssd-resnet50-fpn",
			Type:        TypeDetection,
			Description: "SSD ResNet50 FPN trained on COCO (uint8 NHWC input)",
			Filename:    DetectionSSDResNet50,
		},
		{
			Name:        "coco-labels",
			Type:        TypeLabels,
			Description: "90-id COCO label map",
			Filename:    LabelsCOCO,
		},
	}
}
