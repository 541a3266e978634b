package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/mask"
	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/gofrs/uuid"
)

// ErrProcessImage is the single retryable error of the still-image pipeline.
var ErrProcessImage = errors.New("could not process image, try again")

// StillConfig configures the still-image path.
type StillConfig struct {
	OutputDir string       // where masks are written; temp dir when empty
	Padding   mask.Padding // indicator region padding
	OCR       ocr.Options
}

// DefaultStillConfig returns the still-image defaults.
func DefaultStillConfig() StillConfig {
	return StillConfig{
		Padding: mask.DefaultPadding,
		OCR:     ocr.DefaultOptions(),
	}
}

// Validate checks the still-image settings.
func (c StillConfig) Validate() error {
	if c.Padding.X < 0 || c.Padding.Y < 0 {
		return fmt.Errorf("mask padding must be non-negative, got %+v", c.Padding)
	}
	return nil
}

// StillImagePipeline runs the digit pass, the indicator pass, region masking
// and OCR over a single photo and proposes candidate readings.
type StillImagePipeline struct {
	pipe     *Pipeline
	ocr      ocr.Backend
	cfg      StillConfig
	stream   *LatestCell
	last     atomic.Pointer[[]Candidate]
	counter  atomic.Uint64
	observer Observer
	logger   *slog.Logger
}

// NewStillImagePipeline creates a still pipeline. backend may be nil, in
// which case no OCR candidate is produced.
func NewStillImagePipeline(p *Pipeline, backend ocr.Backend) *StillImagePipeline {
	return &StillImagePipeline{
		pipe:     p,
		ocr:      backend,
		cfg:      p.Config().Still,
		observer: noopObserver{},
		logger:   slog.Default(),
	}
}

// AttachStream makes the latest streaming reading a candidate.
func (s *StillImagePipeline) AttachStream(cell *LatestCell) { s.stream = cell }

// SetObserver installs an event observer.
func (s *StillImagePipeline) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	s.observer = o
}

// LastCandidates returns the candidates of the latest successful run.
func (s *StillImagePipeline) LastCandidates() []Candidate {
	p := s.last.Load()
	if p == nil {
		return nil
	}
	return slices.Clone(*p)
}

// ProcessFile loads path and processes it.
func (s *StillImagePipeline) ProcessFile(ctx context.Context, path string) (*StillResult, error) {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return &StillResult{Source: path}, fmt.Errorf("%w: %w", ErrProcessImage, err)
	}
	return s.Process(ctx, img, path)
}

// Process runs every stage over img. On failure it returns ErrProcessImage
// wrapping the cause, together with the partial result.
func (s *StillImagePipeline) Process(ctx context.Context, img image.Image, sourcePath string) (*StillResult, error) {
	start := time.Now()
	res := &StillResult{Source: sourcePath, Candidates: []Candidate{}}
	fail := func(stage string, err error) (*StillResult, error) {
		res.Processing.TotalNs = time.Since(start).Nanoseconds()
		s.logger.Warn("Still image processing failed", "stage", stage, "source", sourcePath, "error", err)
		return res, fmt.Errorf("%w: %s: %w", ErrProcessImage, stage, err)
	}
	if img == nil {
		return fail("load", errors.New("nil image"))
	}
	b := img.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()

	if s.stream != nil {
		if r := s.stream.Load(); !r.Empty() {
			res.Candidates = append(res.Candidates, Candidate{Label: LabelRealtime, Value: r.Digits})
		}
	}

	// digit pass
	if err := ctx.Err(); err != nil {
		return fail("digit", err)
	}
	t := time.Now()
	digits, err := s.infer(ModeStillImageDigit, img)
	if err != nil {
		return fail("digit", err)
	}
	res.Processing.DigitNs = time.Since(t).Nanoseconds()
	s.observer.StageDurations(ModeStillImageDigit, digits.Durations)
	res.Digits = digits.Digits
	res.Detections = digits.Inliers
	res.Confidence = MeanConfidence(digits.Inliers)
	if digits.Digits != "" {
		res.Candidates = append(res.Candidates, Candidate{Label: LabelDigitModel, Value: digits.Digits})
	}

	// indicator pass
	if err := ctx.Err(); err != nil {
		return fail("indicator", err)
	}
	t = time.Now()
	indicators, err := s.infer(ModeStillImageIndicator, img)
	if err != nil {
		return fail("indicator", err)
	}
	res.Processing.IndicatorNs = time.Since(t).Nanoseconds()
	s.observer.StageDurations(ModeStillImageIndicator, indicators.Durations)
	res.Indicators = indicators.Kept

	// mask, written outside any inference lock
	t = time.Now()
	masked := mask.Apply(img, res.Indicators, s.cfg.Padding)
	maskPath := s.maskPath(sourcePath)
	if err := utils.WriteImageAtomic(maskPath, masked); err != nil {
		return fail("mask", err)
	}
	res.MaskPath = maskPath
	res.Processing.MaskNs = time.Since(t).Nanoseconds()

	// OCR on the mask
	t = time.Now()
	if err := s.recognize(ctx, masked, res); err != nil {
		return fail("ocr", err)
	}
	res.Processing.OCRNs = time.Since(t).Nanoseconds()

	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	published := slices.Clone(res.Candidates)
	s.last.Store(&published)

	s.logger.Debug("Still image processed",
		"source", sourcePath,
		"digits", res.Digits,
		"indicators", len(res.Indicators),
		"candidates", len(res.Candidates),
		"total", time.Duration(res.Processing.TotalNs))
	return res, nil
}

// infer runs one pass. A missing model yields an empty result so the other
// passes still contribute.
func (s *StillImagePipeline) infer(mode Mode, img image.Image) (ChainResult, error) {
	res, err := s.pipe.Infer(mode, img)
	if errors.Is(err, detector.ErrModelUnavailable) {
		s.logger.Debug("Model unavailable, pass left empty", "mode", mode.String())
		return ChainResult{}, nil
	}
	return res, err
}

// recognize adds the OCR candidate. A build without an OCR engine skips the
// stage instead of failing the run.
func (s *StillImagePipeline) recognize(ctx context.Context, masked image.Image, res *StillResult) error {
	if s.ocr == nil {
		return nil
	}
	text, err := s.ocr.Recognize(ctx, masked, s.cfg.OCR)
	if errors.Is(err, ocr.ErrNoBackend) {
		s.logger.Debug("OCR backend not linked, skipping OCR candidate")
		return nil
	}
	if err != nil {
		return err
	}
	res.OCRText = strings.TrimSpace(text)
	d := ocr.ExtractDigits(text)
	if d == "" {
		if res.OCRText != "" {
			s.logger.Debug("OCR text has no digits, no OCR candidate", "source", res.Source, "text", res.OCRText)
		}
		return nil
	}
	res.Candidates = append(res.Candidates, Candidate{Label: LabelOCR, Value: d})
	return nil
}

// maskPath names the mask after the source with a per-run suffix, so sources
// sharing a base name never share a mask file.
func (s *StillImagePipeline) maskPath(source string) string {
	dir := s.cfg.OutputDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "meterread")
	}
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if source == "" || name == "" || name == "." {
		name = "still"
	}
	run := fmt.Sprintf("%d", s.counter.Add(1))
	if id, err := uuid.NewV4(); err == nil {
		run = id.String()[:8]
	}
	return filepath.Join(dir, name+"_"+run+"_mask.png")
}
