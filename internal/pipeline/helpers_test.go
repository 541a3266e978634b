package pipeline

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/stretchr/testify/require"
)

var (
	streamAnchors    = models.AnchorCount(256)
	digitAnchors     = models.AnchorCount(640)
	indicatorAnchors = models.AnchorCount(224)
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Still.OutputDir = t.TempDir()
	return cfg
}

// digitRow places one box per digit on a horizontal row at height y.
func digitRow(anchors int, digits string, y float32) *mock.DetectionTensor {
	t := mock.NewDetectionTensor(anchors, 10)
	for i, r := range digits {
		t.Set(i, mock.Box{
			CenterX: 0.2 + 0.15*float32(i), CenterY: y,
			Width: 0.1, Height: 0.2,
			Class: int(r - '0'), Confidence: 0.9,
		})
	}
	return t
}

func indicatorBox(cx, cy, w, h float32) *mock.DetectionTensor {
	return mock.NewDetectionTensor(indicatorAnchors, 2).Set(0, mock.Box{
		CenterX: cx, CenterY: cy, Width: w, Height: h, Class: 0, Confidence: 0.9,
	})
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func newTestPipeline(t *testing.T, cfg Config, byMode map[Mode]Model) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, byMode)
	require.NoError(t, err)
	return p
}

type panicModel struct{}

func (panicModel) Run([]float32) ([]float32, error) { panic("boom") }

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []FrameOutcome
	stages   map[Mode]int
	busy     []bool
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{stages: map[Mode]int{}}
}

func (o *recordingObserver) FrameOutcome(out FrameOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, out)
}

func (o *recordingObserver) StageDurations(m Mode, _ map[string]time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[m]++
}

func (o *recordingObserver) Inferring(b bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = append(o.busy, b)
}

func (o *recordingObserver) Outcomes() []FrameOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]FrameOutcome(nil), o.outcomes...)
}
