package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir_Priority(t *testing.T) {
	t.Setenv(EnvModelsDir, "/from/env")
	assert.Equal(t, "/explicit", GetModelsDir("/explicit"))
	assert.Equal(t, "/from/env", GetModelsDir(""))
}

func TestGetModelsDir_ProjectRoot(t *testing.T) {
	t.Setenv(EnvModelsDir, "")
	dir := GetModelsDir("")
	assert.Equal(t, DefaultModelsDir, filepath.Base(dir))
}

func TestResolvePath_OrganizedThenFlat(t *testing.T) {
	base := t.TempDir()

	flat := ResolvePath(base, TypeDetection, DetectionSSDMobileNetV2)
	assert.Equal(t, filepath.Join(base, DetectionSSDMobileNetV2), flat)

	organizedDir := filepath.Join(base, TypeDetection)
	require.NoError(t, os.MkdirAll(organizedDir, 0o750))
	organized := filepath.Join(organizedDir, DetectionSSDMobileNetV2)
	require.NoError(t, os.WriteFile(organized, []byte("x"), 0o600))

	assert.Equal(t, organized, GetDetectionModelPath(base))
}

func TestGetLabelsPath(t *testing.T) {
	base := t.TempDir()
	assert.Empty(t, GetLabelsPath(base), "missing labels resolve to empty")

	p := filepath.Join(base, LabelsCOCO)
	require.NoError(t, os.WriteFile(p, []byte("person\n"), 0o600))
	assert.Equal(t, p, GetLabelsPath(base))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()

	err := ValidateModelExists(filepath.Join(dir, "missing.onnx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")

	err = ValidateModelExists(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")

	p := filepath.Join(dir, "m.onnx")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	require.NoError(t, ValidateModelExists(p))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.NotEmpty(t, list)
	names := map[string]bool{}
	for _, m := range list {
		assert.NotEmpty(t, m.Filename)
		assert.False(t, names[m.Name], "duplicate name %s", m.Name)
		names[m.Name] = true
	}
}
