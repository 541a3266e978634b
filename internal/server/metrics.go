package server

import (
	"time"

	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterread_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterread_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Pipeline metrics
	frameOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterread_stream_frames_total",
			Help: "Streaming frames by outcome",
		},
		[]string{"outcome"}, // processed, dropped, skipped, failed
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterread_stage_duration_seconds",
			Help:    "Duration of one pipeline stage",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"mode", "stage"},
	)

	inferenceInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterread_stream_inferring",
			Help: "1 while a streaming inference is running",
		},
	)

	stillRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterread_still_requests_total",
			Help: "Still-image requests by status",
		},
		[]string{"status"},
	)

	stillCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterread_still_candidates_total",
			Help: "Candidates proposed by still-image runs",
		},
		[]string{"label"},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meterread_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterread_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterread_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// metricsObserver feeds pipeline events into the collectors above.
type metricsObserver struct{}

func (metricsObserver) FrameOutcome(o pipeline.FrameOutcome) {
	frameOutcomesTotal.WithLabelValues(o.String()).Inc()
}

func (metricsObserver) StageDurations(mode pipeline.Mode, durations map[string]time.Duration) {
	for stage, d := range durations {
		stageDuration.WithLabelValues(mode.String(), stage).Observe(d.Seconds())
	}
}

func (metricsObserver) Inferring(busy bool) {
	if busy {
		inferenceInFlight.Set(1)
		return
	}
	inferenceInFlight.Set(0)
}
