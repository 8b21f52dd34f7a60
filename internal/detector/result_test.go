package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDetections() []Detection {
	return []Detection{
		{
			Name:       "dog",
			Confidence: 0.87,
			Box:        BoundingBox{LowerLeft: Point{X: 10, Y: 20}, UpperRight: Point{X: 110, Y: 220}},
		},
		{
			Name:       "cat",
			Confidence: 0.51,
			Box:        BoundingBox{LowerLeft: Point{X: 0, Y: 0}, UpperRight: Point{X: 5, Y: 5}},
		},
	}
}

func TestDetectionsToJSON(t *testing.T) {
	data, err := DetectionsToJSON(sampleDetections(), 640, 480)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "dog"`)
	assert.Contains(t, string(data), `"x_max": 110`)

	res, err := ResultFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, 640, res.Width)
	require.Len(t, res.Detections, 2)
	assert.Equal(t, "cat", res.Detections[1].Name)
	assert.InDelta(t, 220, res.Detections[0].Box.YMax, 1e-6)
}

func TestNewResultJSON_Empty(t *testing.T) {
	res := NewResultJSON(nil, 1, 1)
	assert.NotNil(t, res.Detections)
	assert.Empty(t, res.Detections)
}

func TestValidateDetections(t *testing.T) {
	require.NoError(t, ValidateDetections(sampleDetections(), 640, 480))
	require.Error(t, ValidateDetections(nil, 0, 10))

	out := sampleDetections()
	out[0].Box.UpperRight.X = 700
	require.Error(t, ValidateDetections(out, 640, 480))

	swapped := sampleDetections()
	swapped[1].Box = BoundingBox{LowerLeft: Point{X: 5, Y: 5}, UpperRight: Point{X: 0, Y: 0}}
	require.Error(t, ValidateDetections(swapped, 640, 480))

	conf := sampleDetections()
	conf[0].Confidence = 1.2
	require.Error(t, ValidateDetections(conf, 640, 480))
}
