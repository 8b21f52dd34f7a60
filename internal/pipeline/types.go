package pipeline

import (
	"github.com/MeKo-Tech/spotter/internal/detector"
)

// StageTimings records how long each stage of a frame took.
type StageTimings struct {
	PreprocessNs int64 `json:"preprocess_ns"`
	InferenceNs  int64 `json:"inference_ns"`
	DecodeNs     int64 `json:"decode_ns"`
	TotalNs      int64 `json:"total_ns"`
}

// FrameResult is the outcome of one frame. Err is set only by Run, which
// reports per-frame failures on the output channel instead of stopping.
type FrameResult struct {
	Sequence   uint64               `json:"sequence"`
	Source     string               `json:"source,omitempty"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Detections []detector.Detection `json:"-"`
	Timing     StageTimings         `json:"timing"`
	Err        error                `json:"-"`
}
