package pipeline

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/onnx"
)

// Mode selects the model and stage parameters of one chain run.
type Mode int

const (
	ModeStreaming Mode = iota
	ModeStillImageDigit
	ModeStillImageIndicator
)

// Modes lists every mode in declaration order.
var Modes = []Mode{ModeStreaming, ModeStillImageDigit, ModeStillImageIndicator}

func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeStillImageDigit:
		return "still_digit"
	case ModeStillImageIndicator:
		return "still_indicator"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// StageConfig parameterizes the decode -> NMS -> line fit -> assemble chain.
type StageConfig struct {
	InputSize  int
	Layout     string
	CenterCrop bool

	Decode detector.DecodeConfig

	NMSThreshold       float32
	NMSMethod          string
	SoftNMSSigma       float32
	SoftNMSScoreThresh float32

	// LineFit enables the outlier filter; it also gates sequence assembly.
	LineFit       bool
	LineFitConfig detector.LineFitConfig
}

// DefaultStageConfig returns the stage parameters of mode at its default input size.
func DefaultStageConfig(mode Mode) StageConfig {
	sc := StageConfig{
		Layout:             onnx.LayoutNCHW,
		NMSThreshold:       detector.DefaultIoUThreshold,
		NMSMethod:          detector.NMSMethodHard,
		SoftNMSSigma:       0.5,
		SoftNMSScoreThresh: detector.DefaultDigitFloor,
		LineFit:            true,
		LineFitConfig:      detector.DefaultLineFitConfig(),
	}
	switch mode {
	case ModeStillImageDigit:
		sc.InputSize = 640
		sc.Decode = detector.DigitDecodeConfig(models.AnchorCount(640))
	case ModeStillImageIndicator:
		sc.InputSize = 224
		sc.Decode = detector.IndicatorDecodeConfig(models.AnchorCount(224))
		sc.LineFit = false
	default:
		sc.InputSize = 256
		sc.Decode = detector.DigitDecodeConfig(models.AnchorCount(256))
	}
	return sc
}

// WithInputSize returns a copy sized for a different square input.
func (sc StageConfig) WithInputSize(size int) StageConfig {
	sc.InputSize = size
	sc.Decode.AnchorCount = models.AnchorCount(size)
	return sc
}

// Validate checks the stage parameters.
func (sc StageConfig) Validate() error {
	if err := models.ValidateInputSize(sc.InputSize); err != nil {
		return err
	}
	if err := sc.Decode.Validate(); err != nil {
		return err
	}
	if sc.Decode.AnchorCount != models.AnchorCount(sc.InputSize) {
		return fmt.Errorf("%w: %d anchors do not match input size %d",
			detector.ErrInvalidConfig, sc.Decode.AnchorCount, sc.InputSize)
	}
	if sc.NMSThreshold < 0 || sc.NMSThreshold > 1 {
		return fmt.Errorf("%w: nms threshold %v out of [0,1]", detector.ErrInvalidConfig, sc.NMSThreshold)
	}
	switch sc.NMSMethod {
	case "", detector.NMSMethodHard, detector.NMSMethodLinear, detector.NMSMethodGaussian:
	default:
		return fmt.Errorf("%w: unknown nms method %q", detector.ErrInvalidConfig, sc.NMSMethod)
	}
	return nil
}

// ChainResult is the outcome of one chain run over a model output.
type ChainResult struct {
	Decoded   int                  // detections above the floor
	Kept      []detector.Detection // after NMS
	Inliers   []detector.Detection // after the outlier filter; equals Kept when disabled
	Digits    string               // empty when line fit is disabled or nothing was found
	Durations map[string]time.Duration
}

// Reading is what a streaming run publishes.
type Reading struct {
	Digits     string               `json:"digits"`
	Detections []detector.Detection `json:"detections"`
	Mode       string               `json:"mode"`
	Timestamp  time.Time            `json:"timestamp"`
	Duration   time.Duration        `json:"duration_ns"`
	Sequence   uint64               `json:"sequence"`
}

// Empty reports whether the reading carries no digits.
func (r *Reading) Empty() bool {
	return r == nil || r.Digits == ""
}

// Candidate labels.
const (
	LabelRealtime   = "real-time model"
	LabelDigitModel = "digit model"
	LabelOCR        = "OCR-on-mask"
)

// Candidate is one proposed reading of a still image.
type Candidate struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// StillResult is the output of one still-image run. Fields are filled as
// stages complete, so a failed run still carries what was produced.
type StillResult struct {
	Source     string               `json:"source,omitempty"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Digits     string               `json:"digits"`
	Detections []detector.Detection `json:"detections"`
	Indicators []detector.Detection `json:"indicators"`
	MaskPath   string               `json:"mask_path,omitempty"`
	OCRText    string               `json:"ocr_text,omitempty"`
	Candidates []Candidate          `json:"candidates"`
	Confidence float64              `json:"confidence"`
	Processing struct {
		DigitNs     int64 `json:"digit_ns"`
		IndicatorNs int64 `json:"indicator_ns"`
		MaskNs      int64 `json:"mask_ns"`
		OCRNs       int64 `json:"ocr_ns"`
		TotalNs     int64 `json:"total_ns"`
	} `json:"processing"`
}

// MeanConfidence averages detection confidences; 0 for none.
func MeanConfidence(dets []detector.Detection) float64 {
	if len(dets) == 0 {
		return 0
	}
	var sum float64
	for _, d := range dets {
		sum += float64(d.Confidence)
	}
	return sum / float64(len(dets))
}
