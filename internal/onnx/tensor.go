package onnx

import (
	"errors"
	"fmt"
)

// ValidateNHWC ensures a shape is [N, H, W, C] with positive dimensions.
func ValidateNHWC(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// DetectionDims validates the three SSD output shapes, [B,N,4], [B,N] and
// [B,N], and returns B and N.
func DetectionDims(boxes, classes, scores []int64) (int, int, error) {
	if len(boxes) != 3 || boxes[2] != 4 {
		return 0, 0, fmt.Errorf("boxes shape %v, want [B,N,4]", boxes)
	}
	if len(classes) != 2 || len(scores) != 2 {
		return 0, 0, fmt.Errorf("classes shape %v and scores shape %v must be [B,N]", classes, scores)
	}
	b, n := boxes[0], boxes[1]
	if classes[0] != b || scores[0] != b || classes[1] != n || scores[1] != n {
		return 0, 0, fmt.Errorf("inconsistent output shapes: boxes %v classes %v scores %v", boxes, classes, scores)
	}
	if b < 0 || n < 0 {
		return 0, 0, errors.New("negative output dimension")
	}
	return int(b), int(n), nil
}

// Stats computes min, max and mean for debug output.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
