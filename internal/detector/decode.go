package detector

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MeKo-Tech/spotter/internal/frame"
	"github.com/MeKo-Tech/spotter/internal/labels"
)

// DecodeOptions controls which candidate slots survive decoding.
type DecodeOptions struct {
	MinConfidence float32 // keep detections with confidence strictly above this
	TopHits       int     // consider only the first TopHits slots, <= 0 = all
}

// Validate checks the option ranges.
func (o DecodeOptions) Validate() error {
	if o.MinConfidence < 0 || o.MinConfidence > 1 || math.IsNaN(float64(o.MinConfidence)) {
		return fmt.Errorf("min confidence must be in [0,1], got %v", o.MinConfidence)
	}
	return nil
}

// Decoder turns raw network outputs into labeled detections.
type Decoder struct {
	labels *labels.Table
	opts   DecodeOptions
}

// NewDecoder creates a decoder bound to a label table.
func NewDecoder(table *labels.Table, opts DecodeOptions) (*Decoder, error) {
	if table == nil || table.Len() == 0 {
		return nil, errors.New("label table cannot be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{labels: table, opts: opts}, nil
}

// Options returns the decoder options.
func (d *Decoder) Options() DecodeOptions { return d.opts }

// Labels returns the label table.
func (d *Decoder) Labels() *labels.Table { return d.labels }

// considered returns how many leading slots are decoded.
func (d *Decoder) considered(n int) int {
	if d.opts.TopHits <= 0 || d.opts.TopHits > n {
		return n
	}
	return d.opts.TopHits
}

// Decode reads batch row 0 of raw and returns the detections whose
// confidence exceeds MinConfidence, highest confidence first. Ties keep the
// network's slot order. Boxes are scaled by the size of src, the frame as it
// arrived before any resizing.
func (d *Decoder) Decode(raw RawOutputs, src *frame.Frame) ([]Detection, error) {
	if src == nil {
		return nil, errors.New("source frame is nil")
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	k := d.considered(raw.Candidates)
	w, h := float32(src.Width), float32(src.Height)

	out := make([]Detection, 0, k)
	for i := range k {
		classID := int(math.Round(float64(raw.Classes[i])))
		name, ok := d.labels.Lookup(classID)
		if !ok {
			return nil, &LabelIndexError{Slot: i, ClassID: classID, TableSize: d.labels.Len()}
		}

		b := raw.Boxes[i*4 : i*4+4]
		box := BoundingBox{
			LowerLeft:  Point{X: b[1] * w, Y: b[0] * h},
			UpperRight: Point{X: b[3] * w, Y: b[2] * h},
		}.normalized()

		conf := raw.Scores[i]
		if !(conf > d.opts.MinConfidence) {
			continue
		}
		out = append(out, Detection{Name: name, Box: box, Confidence: conf, Image: src})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}
