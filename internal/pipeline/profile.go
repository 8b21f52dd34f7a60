package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates counters and timers across frames.
type Profiler struct {
	PreprocessNs atomic.Int64
	InferenceNs  atomic.Int64
	DecodeNs     atomic.Int64
	Frames       atomic.Int64
	Detections   atomic.Int64
	Errors       atomic.Int64
	Timeouts     atomic.Int64
}

// Record adds one successful frame.
func (p *Profiler) Record(t StageTimings, detections int) {
	p.PreprocessNs.Add(t.PreprocessNs)
	p.InferenceNs.Add(t.InferenceNs)
	p.DecodeNs.Add(t.DecodeNs)
	p.Frames.Add(1)
	p.Detections.Add(int64(detections))
}

// RecordError counts a failed frame.
func (p *Profiler) RecordError() { p.Errors.Add(1) }

// RecordTimeout counts a frame abandoned at its deadline.
func (p *Profiler) RecordTimeout() { p.Timeouts.Add(1) }

// ProfileSnapshot is a point-in-time copy of the profiler in milliseconds.
type ProfileSnapshot struct {
	Frames             int64   `json:"frames"`
	Detections         int64   `json:"detections"`
	Errors             int64   `json:"errors"`
	Timeouts           int64   `json:"timeouts"`
	PreprocessMsPerFrm float64 `json:"preprocess_ms_per_frame"`
	InferenceMsPerFrm  float64 `json:"inference_ms_per_frame"`
	DecodeMsPerFrm     float64 `json:"decode_ms_per_frame"`
}

// Snapshot returns cumulative metrics.
func (p *Profiler) Snapshot() ProfileSnapshot {
	s := ProfileSnapshot{
		Frames:     p.Frames.Load(),
		Detections: p.Detections.Load(),
		Errors:     p.Errors.Load(),
		Timeouts:   p.Timeouts.Load(),
	}
	if s.Frames > 0 {
		n := float64(s.Frames) * 1_000_000.0
		s.PreprocessMsPerFrm = float64(p.PreprocessNs.Load()) / n
		s.InferenceMsPerFrm = float64(p.InferenceNs.Load()) / n
		s.DecodeMsPerFrm = float64(p.DecodeNs.Load()) / n
	}
	return s
}
