package server

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveFrame(t *testing.T) {
	const source = "metrics-test"
	ok := framesTotal.WithLabelValues(source, "success")
	failed := framesTotal.WithLabelValues(source, "error")
	timeouts := frameTimeouts.WithLabelValues(source)
	okBefore, failedBefore, timeoutsBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed), testutil.ToFloat64(timeouts)

	res := &pipeline.FrameResult{
		Detections: []detector.Detection{{Name: "person"}, {Name: "car"}},
		Timing:     pipeline.StageTimings{PreprocessNs: 1e6, InferenceNs: 5e6, DecodeNs: 1e5},
	}
	observeFrame(source, res, 7*time.Millisecond, false)
	observeFrame(source, nil, 0, true)
	observeFrame(source, nil, 0, false)

	assert.InDelta(t, okBefore+1, testutil.ToFloat64(ok), 0)
	assert.InDelta(t, failedBefore+2, testutil.ToFloat64(failed), 0)
	assert.InDelta(t, timeoutsBefore+1, testutil.ToFloat64(timeouts), 0)
	assert.Positive(t, testutil.CollectAndCount(stageLatency, "spotter_frame_stage_seconds"))
}

func TestObserveRequest(t *testing.T) {
	c := httpRequests.WithLabelValues("GET", "/metrics-test", "204")
	before := testutil.ToFloat64(c)
	observeRequest("GET", "/metrics-test", 204, time.Millisecond)
	assert.InDelta(t, before+1, testutil.ToFloat64(c), 0)
}
