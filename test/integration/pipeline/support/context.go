package support

import (
	"fmt"
	"image"
	"net/http/httptest"
	"os"

	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/server"
	"github.com/MeKo-Tech/meterread/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Models handed to the pipeline. A nil model leaves its mode unavailable.
	StreamModel    *mock.Model
	DigitModel     *mock.Model
	IndicatorModel *mock.Model
	OCR            ocr.Backend
	Seed           uint64

	pipe   *pipeline.Pipeline
	stream *pipeline.StreamController
	poller *pipeline.Poller
	still  *pipeline.StillImagePipeline

	// Chain state
	Tensor      *mock.DetectionTensor
	ChainResult pipeline.ChainResult
	ChainErr    error

	// Stream state
	LastOutcome pipeline.FrameOutcome

	// Still state
	StillResult *pipeline.StillResult
	StillErr    error

	// HTTP state
	HTTPServer         *httptest.Server
	apiServer          *server.Server
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastContentType    string
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "meterread-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir, Seed: 7}, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.apiServer != nil {
		_ = testCtx.apiServer.Close()
	} else if testCtx.pipe != nil {
		_ = testCtx.pipe.Close()
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err)
	}
	return nil
}

// Pipeline builds the pipeline on first use from the configured models.
func (testCtx *TestContext) Pipeline() (*pipeline.Pipeline, error) {
	if testCtx.pipe != nil {
		return testCtx.pipe, nil
	}
	cfg := pipeline.DefaultConfig()
	cfg.Seed = testCtx.Seed
	cfg.Still.OutputDir = testCtx.TempDir

	byMode := map[pipeline.Mode]pipeline.Model{}
	if testCtx.StreamModel != nil {
		byMode[pipeline.ModeStreaming] = testCtx.StreamModel
	}
	if testCtx.DigitModel != nil {
		byMode[pipeline.ModeStillImageDigit] = testCtx.DigitModel
	}
	if testCtx.IndicatorModel != nil {
		byMode[pipeline.ModeStillImageIndicator] = testCtx.IndicatorModel
	}
	p, err := pipeline.NewPipeline(cfg, byMode)
	if err != nil {
		return nil, err
	}
	testCtx.pipe = p
	return p, nil
}

// Stream returns the stream controller and its poller, creating them on first use.
func (testCtx *TestContext) Stream() (*pipeline.StreamController, *pipeline.Poller, error) {
	if testCtx.stream != nil {
		return testCtx.stream, testCtx.poller, nil
	}
	p, err := testCtx.Pipeline()
	if err != nil {
		return nil, nil, err
	}
	testCtx.stream = pipeline.NewStreamController(p, nil)
	testCtx.poller = pipeline.NewPoller(testCtx.stream.Cell(), p.Config().Stream.PollInterval, p.Config().Stream.HistorySize)
	return testCtx.stream, testCtx.poller, nil
}

// Still returns the still-image pipeline attached to the stream cell.
func (testCtx *TestContext) Still() (*pipeline.StillImagePipeline, error) {
	if testCtx.still != nil {
		return testCtx.still, nil
	}
	stream, _, err := testCtx.Stream()
	if err != nil {
		return nil, err
	}
	testCtx.still = pipeline.NewStillImagePipeline(testCtx.pipe, testCtx.OCR)
	testCtx.still.AttachStream(stream.Cell())
	return testCtx.still, nil
}

func photo() image.Image {
	cfg := testutil.DefaultPhotoConfig()
	cfg.Width, cfg.Height = 200, 100
	return testutil.MeterPhoto(cfg)
}
