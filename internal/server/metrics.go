package server

import (
	"strconv"
	"time"

	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "spotter"

// Frame sources used as the "type" label.
const (
	sourceImage     = "image"
	sourceWebsocket = "websocket"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, path and status.",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "detect_requests_total",
		Help:      "Frames submitted for detection by source and outcome.",
	}, []string{"type", "status"})

	frameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "frame",
		Name:      "duration_seconds",
		Help:      "Wall time per frame, queueing on the pipeline included.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"type"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "frame",
		Name:      "stage_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, 1},
	}, []string{"stage"})

	frameDetections = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "detections_per_frame",
		Help:      "Detections returned per frame.",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"type"})

	frameTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "frame",
		Name:      "timeouts_total",
		Help:      "Frames abandoned at their deadline.",
	}, []string{"type"})

	poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "pipeline_pool",
		Name:      "in_use",
		Help:      "Pipelines currently held by requests or streams.",
	})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "rate_limit",
		Name:      "hits_total",
		Help:      "Requests rejected by the limiter, by limit kind.",
	}, []string{"type"})

	uploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "upload",
		Name:      "size_bytes",
		Help:      "Size of uploaded images.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "websocket",
		Name:      "active_connections",
		Help:      "Open websocket frame streams.",
	})

	streamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Websocket messages by direction.",
	}, []string{"direction"})
)

func observeRequest(method, path string, status int, took time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, path).Observe(took.Seconds())
}

// observeFrame records a finished frame. A nil res counts as a failure.
func observeFrame(source string, res *pipeline.FrameResult, took time.Duration, timedOut bool) {
	if res == nil {
		framesTotal.WithLabelValues(source, "error").Inc()
		if timedOut {
			frameTimeouts.WithLabelValues(source).Inc()
		}
		return
	}
	framesTotal.WithLabelValues(source, "success").Inc()
	frameLatency.WithLabelValues(source).Observe(took.Seconds())
	frameDetections.WithLabelValues(source).Observe(float64(len(res.Detections)))
	stageLatency.WithLabelValues("preprocess").Observe(nsToSeconds(res.Timing.PreprocessNs))
	stageLatency.WithLabelValues("inference").Observe(nsToSeconds(res.Timing.InferenceNs))
	stageLatency.WithLabelValues("decode").Observe(nsToSeconds(res.Timing.DecodeNs))
}

func nsToSeconds(ns int64) float64 {
	return time.Duration(ns).Seconds()
}
