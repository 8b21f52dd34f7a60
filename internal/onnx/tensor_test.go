package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNHWC(t *testing.T) {
	require.NoError(t, ValidateNHWC([]int64{1, 300, 300, 3}))
	require.Error(t, ValidateNHWC([]int64{1, 300, 300}))
	require.Error(t, ValidateNHWC([]int64{1, 0, 300, 3}))
}

func TestDetectionDims(t *testing.T) {
	b, n, err := DetectionDims([]int64{1, 100, 4}, []int64{1, 100}, []int64{1, 100})
	require.NoError(t, err)
	assert.Equal(t, 1, b)
	assert.Equal(t, 100, n)

	tests := []struct {
		name                   string
		boxes, classes, scores []int64
	}{
		{"boxes rank", []int64{1, 100}, []int64{1, 100}, []int64{1, 100}},
		{"boxes coords", []int64{1, 100, 5}, []int64{1, 100}, []int64{1, 100}},
		{"classes rank", []int64{1, 100, 4}, []int64{1, 100, 1}, []int64{1, 100}},
		{"mismatched N", []int64{1, 100, 4}, []int64{1, 50}, []int64{1, 100}},
		{"mismatched batch", []int64{1, 100, 4}, []int64{2, 100}, []int64{1, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DetectionDims(tt.boxes, tt.classes, tt.scores)
			require.Error(t, err)
		})
	}
}

func TestStats(t *testing.T) {
	lo, hi, mean := Stats([]float32{0.5, 0.1, 0.9})
	assert.InDelta(t, 0.1, lo, 1e-6)
	assert.InDelta(t, 0.9, hi, 1e-6)
	assert.InDelta(t, 0.5, mean, 1e-6)

	lo, hi, mean = Stats(nil)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
	assert.Zero(t, mean)
}
