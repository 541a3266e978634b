package server

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/meterread/internal/common"
	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// streamInterface is the live reading path as seen by the server.
type streamInterface interface {
	OnFrame(img image.Image) pipeline.FrameOutcome
	Latest() *pipeline.Reading
	Busy() bool
	OverlayDetections() []detector.Detection
}

// stillInterface is the still-image path as seen by the server.
type stillInterface interface {
	Process(ctx context.Context, img image.Image, sourcePath string) (*pipeline.StillResult, error)
	LastCandidates() []pipeline.Candidate
}

// historyInterface exposes recorded streaming readings.
type historyInterface interface {
	History() []pipeline.Reading
	Subscribe(buffer int) (<-chan pipeline.Reading, func())
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipe        *pipeline.Pipeline
	stream      streamInterface
	still       stillInterface
	history     historyInterface
	poller      *pipeline.Poller
	readingOpts reading.Options
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	startTime   time.Time
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	Reading     reading.Options
}

// Response types for API endpoints.
type HealthResponse struct {
	Status    string              `json:"status"`
	Version   string              `json:"version,omitempty"`
	Time      string              `json:"time"`
	Uptime    string              `json:"uptime,omitempty"`
	Inferring bool                `json:"inferring"`
	Models    map[string]bool     `json:"models,omitempty"`
	Memory    *common.MemoryStats `json:"memory,omitempty"`
}

type ModelsResponse struct {
	Models   []ModelInfo            `json:"models"`
	Count    int                    `json:"count"`
	Pipeline map[string]interface{} `json:"pipeline,omitempty"`
}

type ModelInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
	InputSize   int    `json:"input_size"`
	AnchorCount int    `json:"anchor_count"`
	Available   bool   `json:"available"`
}

type ReadImageResponse struct {
	Success bool                  `json:"success"`
	Result  *pipeline.StillResult `json:"result,omitempty"`
	Reading *reading.MeterReading `json:"reading,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type FrameResponse struct {
	Outcome string            `json:"outcome"`
	Latest  *pipeline.Reading `json:"latest,omitempty"`
}

type LatestResponse struct {
	Reading   *pipeline.Reading    `json:"reading"`
	Overlay   []detector.Detection `json:"overlay"`
	Inferring bool                 `json:"inferring"`
}

type HistoryResponse struct {
	Readings []pipeline.Reading `json:"readings"`
	Count    int                `json:"count"`
}

// ConfirmRequest turns one candidate value into a meter reading.
type ConfirmRequest struct {
	Value      string  `json:"value"`
	Label      string  `json:"label,omitempty"`
	Type       string  `json:"type,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Decimals   *int    `json:"decimals,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	ImageURI   string  `json:"imageUri,omitempty"`
}

// NewServer wires both controllers, the poller and the metrics observer
// around an already built pipeline. The server owns p from now on.
func NewServer(config Config, p *pipeline.Pipeline, backend ocr.Backend) (*Server, error) {
	if p == nil {
		return nil, errors.New("server requires a pipeline")
	}
	cfg := p.Config()
	observer := metricsObserver{}

	stream := pipeline.NewStreamController(p, nil)
	stream.SetObserver(observer)

	still := pipeline.NewStillImagePipeline(p, backend)
	still.AttachStream(stream.Cell())
	still.SetObserver(observer)

	poller := pipeline.NewPoller(stream.Cell(), cfg.Stream.PollInterval, cfg.Stream.HistorySize)

	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	return &Server{
		pipe:        p,
		stream:      stream,
		still:       still,
		history:     poller,
		poller:      poller,
		readingOpts: config.Reading,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		startTime:   time.Now(),
	}, nil
}

// Run polls the latest reading into the history until ctx is done.
func (s *Server) Run(ctx context.Context) {
	if s.poller == nil {
		return
	}
	slog.Debug("Reading poller started")
	s.poller.Run(ctx)
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipe != nil {
		return s.pipe.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/read/image", s.corsMiddleware(s.readImageHandler))
	mux.HandleFunc("/read/frame", s.corsMiddleware(s.readFrameHandler))
	mux.HandleFunc("/reading/latest", s.corsMiddleware(s.latestHandler))
	mux.HandleFunc("/reading/history", s.corsMiddleware(s.historyHandler))
	mux.HandleFunc("/reading/confirm", s.corsMiddleware(s.confirmHandler))
	mux.HandleFunc("/ws/stream", s.streamWebSocketHandler)
}
