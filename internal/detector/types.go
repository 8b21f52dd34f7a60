package detector

import (
	"fmt"

	"github.com/MeKo-Tech/spotter/internal/frame"
)

// Point is a 2D pixel coordinate.
type Point struct {
	X float32
	Y float32
}

// BoundingBox is an axis-aligned box in source image pixels. After decoding,
// LowerLeft holds the minimum and UpperRight the maximum of each axis.
type BoundingBox struct {
	LowerLeft  Point
	UpperRight Point
}

// Width returns the horizontal extent.
func (b BoundingBox) Width() float32 { return b.UpperRight.X - b.LowerLeft.X }

// Height returns the vertical extent.
func (b BoundingBox) Height() float32 { return b.UpperRight.Y - b.LowerLeft.Y }

// Area returns Width*Height.
func (b BoundingBox) Area() float32 { return b.Width() * b.Height() }

// Center returns the box midpoint.
func (b BoundingBox) Center() Point {
	return Point{X: (b.LowerLeft.X + b.UpperRight.X) / 2, Y: (b.LowerLeft.Y + b.UpperRight.Y) / 2}
}

// normalized swaps corners so that LowerLeft <= UpperRight on both axes.
func (b BoundingBox) normalized() BoundingBox {
	return BoundingBox{
		LowerLeft:  Point{X: min(b.LowerLeft.X, b.UpperRight.X), Y: min(b.LowerLeft.Y, b.UpperRight.Y)},
		UpperRight: Point{X: max(b.LowerLeft.X, b.UpperRight.X), Y: max(b.LowerLeft.Y, b.UpperRight.Y)},
	}
}

// Detection is one labeled, localized object. Image points at the frame the
// detection came from; all detections of a frame share it and must treat it
// as read-only.
type Detection struct {
	Name       string
	Box        BoundingBox
	Confidence float32
	Image      *frame.Frame
}

// TensorShape is the NHWC shape of the input binding.
type TensorShape struct {
	Batch    int
	Height   int
	Width    int
	Channels int
}

// ShapeOf returns the single-frame input shape for f.
func ShapeOf(f *frame.Frame) TensorShape {
	return TensorShape{Batch: 1, Height: f.Height, Width: f.Width, Channels: f.Channels}
}

// Dims returns the shape as [N, H, W, C].
func (s TensorShape) Dims() []int64 {
	return []int64{int64(s.Batch), int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Elements returns the number of values in a tensor of this shape.
func (s TensorShape) Elements() int {
	return s.Batch * s.Height * s.Width * s.Channels
}

func (s TensorShape) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", s.Batch, s.Height, s.Width, s.Channels)
}

// RawOutputs are the three network outputs copied out of the runtime.
// Boxes is [Batch][Candidates][4] holding normalized ymin, xmin, ymax, xmax;
// Classes and Scores are [Batch][Candidates].
type RawOutputs struct {
	Boxes      []float32
	Classes    []float32
	Scores     []float32
	Batch      int
	Candidates int
}

// Validate checks that the flat arrays agree with Batch and Candidates.
func (r RawOutputs) Validate() error {
	if r.Batch < 1 {
		return fmt.Errorf("raw outputs have batch %d", r.Batch)
	}
	if r.Candidates < 0 {
		return fmt.Errorf("raw outputs have negative candidate count %d", r.Candidates)
	}
	n := r.Batch * r.Candidates
	if len(r.Boxes) != n*4 || len(r.Classes) != n || len(r.Scores) != n {
		return fmt.Errorf("raw output lengths boxes=%d classes=%d scores=%d do not match batch=%d candidates=%d",
			len(r.Boxes), len(r.Classes), len(r.Scores), r.Batch, r.Candidates)
	}
	return nil
}

// FetchPlan names the three output tensors fetched on every run.
type FetchPlan struct {
	Boxes   string
	Classes string
	Scores  string
}

// Names returns the outputs in fetch order.
func (p FetchPlan) Names() []string {
	return []string{p.Boxes, p.Classes, p.Scores}
}

// ModelIO describes the model signature discovered at load time.
type ModelIO struct {
	InputName string
	InputDims []int64
	Outputs   FetchPlan
}

// FixedInputSize returns the model's static width and height when both are
// known.
func (m ModelIO) FixedInputSize() (int, int, bool) {
	if len(m.InputDims) != 4 || m.InputDims[1] <= 0 || m.InputDims[2] <= 0 {
		return 0, 0, false
	}
	return int(m.InputDims[2]), int(m.InputDims[1]), true
}
