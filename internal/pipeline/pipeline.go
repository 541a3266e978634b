package pipeline

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/meterread/internal/common"
	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/mask"
	"github.com/MeKo-Tech/meterread/internal/mempool"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/utils"
)

// Model is an opaque detection model: a normalized S x S RGB buffer in,
// a planar output buffer out. *detector.Detector satisfies it.
type Model interface {
	Run(input []float32) ([]float32, error)
}

// Config holds configuration for both pipelines and their models.
type Config struct {
	ModelsDir string

	Streaming detector.Config
	Digit     detector.Config
	Indicator detector.Config

	StreamStage    StageConfig
	DigitStage     StageConfig
	IndicatorStage StageConfig

	WarmupIterations   int  // optional warmup runs per model
	SerializeInference bool // one model call at a time across both pipelines
	Seed               uint64

	Stream   StreamConfig
	Still    StillConfig
	Parallel ParallelConfig
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	digit := detector.DefaultConfig()
	digit.ModelPath = models.GetDigitModelPath("", models.Digits640)
	digit.InputSize = 640

	return Config{
		ModelsDir:      models.GetModelsDir(""),
		Streaming:      detector.DefaultConfig(),
		Digit:          digit,
		Indicator:      detector.DefaultIndicatorConfig(),
		StreamStage:    DefaultStageConfig(ModeStreaming),
		DigitStage:     DefaultStageConfig(ModeStillImageDigit),
		IndicatorStage: DefaultStageConfig(ModeStillImageIndicator),
		Stream:         DefaultStreamConfig(),
		Still:          DefaultStillConfig(),
		Parallel:       DefaultParallelConfig(),
	}
}

// Stage returns the stage parameters of mode.
func (c Config) Stage(mode Mode) StageConfig {
	switch mode {
	case ModeStillImageDigit:
		return c.DigitStage
	case ModeStillImageIndicator:
		return c.IndicatorStage
	default:
		return c.StreamStage
	}
}

func (c *Config) model(mode Mode) *detector.Config {
	switch mode {
	case ModeStillImageDigit:
		return &c.Digit
	case ModeStillImageIndicator:
		return &c.Indicator
	default:
		return &c.Streaming
	}
}

func (c *Config) stage(mode Mode) *StageConfig {
	switch mode {
	case ModeStillImageDigit:
		return &c.DigitStage
	case ModeStillImageIndicator:
		return &c.IndicatorStage
	default:
		return &c.StreamStage
	}
}

// Validate checks stage parameters and that each stage agrees with its model.
func (c Config) Validate() error {
	for _, m := range Modes {
		sc := c.Stage(m)
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("%s stage: %w", m, err)
		}
		mc := c.model(m)
		if mc.InputSize != sc.InputSize {
			return fmt.Errorf("%s stage: model input size %d differs from stage input size %d", m, mc.InputSize, sc.InputSize)
		}
		if mc.ClassCount != sc.Decode.ClassCount {
			return fmt.Errorf("%s stage: model has %d classes, decoder expects %d", m, mc.ClassCount, sc.Decode.ClassCount)
		}
	}
	if c.WarmupIterations < 0 {
		return errors.New("warmup iterations must be >= 0")
	}
	return c.Still.Validate()
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	injected map[Mode]Model
	required []Mode
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig(), injected: map[Mode]Model{}}
}

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(cfg Config) *Builder {
	return &Builder{cfg: cfg, injected: map[Mode]Model{}}
}

// WithModelsDir sets the models directory and re-resolves model paths by file name.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir == "" {
		return b
	}
	b.cfg.ModelsDir = dir
	b.cfg.Streaming.ModelPath = models.ResolveModelPath(dir, models.TypeDigits, filepath.Base(b.cfg.Streaming.ModelPath))
	b.cfg.Digit.ModelPath = models.ResolveModelPath(dir, models.TypeDigits, filepath.Base(b.cfg.Digit.ModelPath))
	b.cfg.Indicator.ModelPath = models.ResolveModelPath(dir, models.TypeIndicator, filepath.Base(b.cfg.Indicator.ModelPath))
	return b
}

// WithModelPath overrides the model file of mode.
func (b *Builder) WithModelPath(mode Mode, path string) *Builder {
	if path != "" {
		b.cfg.model(mode).ModelPath = path
	}
	return b
}

// WithInputSize changes the square input side of mode for both the model and its stage.
func (b *Builder) WithInputSize(mode Mode, size int) *Builder {
	if size > 0 {
		b.cfg.model(mode).InputSize = size
		*b.cfg.stage(mode) = b.cfg.stage(mode).WithInputSize(size)
	}
	return b
}

// WithLayout sets the input tensor layout of mode ("nchw" or "nhwc").
func (b *Builder) WithLayout(mode Mode, layout string) *Builder {
	if layout != "" {
		b.cfg.model(mode).Layout = layout
		b.cfg.stage(mode).Layout = layout
	}
	return b
}

// WithCenterCrop crops frames of mode to their central square before resizing.
func (b *Builder) WithCenterCrop(mode Mode, enabled bool) *Builder {
	b.cfg.stage(mode).CenterCrop = enabled
	return b
}

// WithConfidenceFloor sets the decoder floor of mode.
func (b *Builder) WithConfidenceFloor(mode Mode, floor float32) *Builder {
	if floor >= 0 {
		b.cfg.stage(mode).Decode.ConfidenceFloor = floor
	}
	return b
}

// WithNMS configures suppression for every mode. method is "hard",
// "linear" or "gaussian"; non-positive values keep the current setting.
func (b *Builder) WithNMS(method string, iou, sigma, scoreThresh float32) *Builder {
	for _, m := range Modes {
		sc := b.cfg.stage(m)
		if method != "" {
			sc.NMSMethod = method
		}
		if iou > 0 {
			sc.NMSThreshold = iou
		}
		if sigma > 0 {
			sc.SoftNMSSigma = sigma
		}
		if scoreThresh > 0 {
			sc.SoftNMSScoreThresh = scoreThresh
		}
	}
	return b
}

// WithLineFit sets the outlier filter parameters of the digit modes.
func (b *Builder) WithLineFit(iterations int, distance float32) *Builder {
	for _, m := range []Mode{ModeStreaming, ModeStillImageDigit} {
		sc := b.cfg.stage(m)
		if iterations > 0 {
			sc.LineFitConfig.Iterations = iterations
		}
		if distance > 0 {
			sc.LineFitConfig.DistanceThreshold = distance
		}
	}
	return b
}

// WithThreads sets intra-op thread counts for all models (if >0).
func (b *Builder) WithThreads(n int) *Builder {
	if n > 0 {
		for _, m := range Modes {
			b.cfg.model(m).NumThreads = n
		}
	}
	return b
}

// WithGPU enables GPU acceleration for all models.
func (b *Builder) WithGPU(enabled bool) *Builder {
	for _, m := range Modes {
		b.cfg.model(m).GPU.UseGPU = enabled
	}
	return b
}

// WithGPUDevice sets the CUDA device ID for all models.
func (b *Builder) WithGPUDevice(deviceID int) *Builder {
	for _, m := range Modes {
		b.cfg.model(m).GPU.DeviceID = deviceID
	}
	return b
}

// WithWarmupIterations sets model warmup runs to reduce cold-start latency.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithSerializeInference shares one inference lock between both pipelines.
func (b *Builder) WithSerializeInference(enabled bool) *Builder {
	b.cfg.SerializeInference = enabled
	return b
}

// WithSeed fixes the line fit random source. 0 picks a random seed.
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.cfg.Seed = seed
	return b
}

// WithOutputDir sets where still-image masks are written.
func (b *Builder) WithOutputDir(dir string) *Builder {
	if dir != "" {
		b.cfg.Still.OutputDir = dir
	}
	return b
}

// WithMaskPadding sets the indicator region padding in pixels.
func (b *Builder) WithMaskPadding(x, y int) *Builder {
	if x >= 0 && y >= 0 {
		b.cfg.Still.Padding = mask.Padding{X: x, Y: y}
	}
	return b
}

// WithOCROptions sets recognition options for the OCR-on-mask candidate.
func (b *Builder) WithOCROptions(opts ocr.Options) *Builder {
	b.cfg.Still.OCR = opts
	return b
}

// WithParallelWorkers sets the number of workers for batch processing.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithModel injects an already loaded model for mode instead of opening an ONNX file.
func (b *Builder) WithModel(mode Mode, m Model) *Builder {
	b.injected[mode] = m
	return b
}

// Require makes Build fail when a model of one of modes cannot be loaded.
// Without it, missing models leave their mode unavailable.
func (b *Builder) Require(modes ...Mode) *Builder {
	b.required = append(b.required, modes...)
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration and that required model files exist.
func (b *Builder) Validate() error {
	if err := b.cfg.Validate(); err != nil {
		return err
	}
	for _, m := range b.required {
		if _, ok := b.injected[m]; ok {
			continue
		}
		path := b.cfg.model(m).ModelPath
		if path == "" {
			return fmt.Errorf("%s model path is empty", m)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s model not found: %s", m, path)
		}
	}
	return nil
}

// Pipeline owns the three models and runs the detection chain.
type Pipeline struct {
	cfg     Config
	models  map[Mode]Model
	closers []io.Closer
	inferMu *sync.Mutex
	rng     *lockedRand
}

// Build loads the models and returns a ready Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    b.cfg,
		models: map[Mode]Model{},
		rng:    newLockedRand(b.cfg.Seed),
	}
	if b.cfg.SerializeInference {
		p.inferMu = &sync.Mutex{}
	}

	for _, m := range Modes {
		if inj, ok := b.injected[m]; ok {
			p.models[m] = inj
			continue
		}
		det, err := detector.NewDetector(*b.cfg.model(m))
		if err != nil {
			if slices.Contains(b.required, m) {
				_ = p.Close()
				return nil, fmt.Errorf("init %s model: %w", m, err)
			}
			slog.Warn("Model unavailable", "mode", m.String(), "model_path", b.cfg.model(m).ModelPath, "error", err)
			continue
		}
		p.models[m] = det
		p.closers = append(p.closers, det)

		if b.cfg.WarmupIterations > 0 {
			if err := det.Warmup(b.cfg.WarmupIterations); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("%s warmup failed: %w", m, err)
			}
		}
	}
	return p, nil
}

// NewPipeline wires already loaded models without touching the filesystem.
func NewPipeline(cfg Config, modelsByMode map[Mode]Model) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, models: map[Mode]Model{}, rng: newLockedRand(cfg.Seed)}
	if cfg.SerializeInference {
		p.inferMu = &sync.Mutex{}
	}
	for m, model := range modelsByMode {
		if model != nil {
			p.models[m] = model
		}
	}
	return p, nil
}

// Close releases all loaded models.
func (p *Pipeline) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closers = nil
	return firstErr
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Stage returns the stage parameters of mode.
func (p *Pipeline) Stage(mode Mode) StageConfig { return p.cfg.Stage(mode) }

// Available reports whether mode has a model.
func (p *Pipeline) Available(mode Mode) bool {
	return p.models[mode] != nil
}

// Run executes the stage chain of mode over one model output tensor.
func (p *Pipeline) Run(mode Mode, output []float32) (ChainResult, error) {
	return RunChain(output, p.Stage(mode), p.rng)
}

// RunChain decodes output, suppresses duplicates and, when the stage enables
// it, filters outliers and assembles the digit string.
func RunChain(output []float32, sc StageConfig, rng detector.RandSource) (ChainResult, error) {
	sw := common.NewStopwatch()
	dets, err := detector.Decode(output, sc.Decode)
	if err != nil {
		return ChainResult{}, err
	}
	sw.Lap("decode")

	kept := detector.Suppress(dets, sc.NMSMethod, sc.NMSThreshold, sc.SoftNMSSigma, sc.SoftNMSScoreThresh)
	sw.Lap("nms")

	res := ChainResult{Decoded: len(dets), Kept: kept, Inliers: kept}
	if sc.LineFit {
		res.Inliers = detector.FilterOutliers(kept, sc.LineFitConfig, rng)
		sw.Lap("linefit")
		res.Digits = detector.AssembleSequence(res.Inliers)
		sw.Lap("assemble")
	}
	res.Durations = lapMap(sw)
	return res, nil
}

// Infer preprocesses img for mode, runs its model and the stage chain.
func (p *Pipeline) Infer(mode Mode, img image.Image) (ChainResult, error) {
	sw := common.NewStopwatch()
	output, err := p.output(mode, img, sw)
	if err != nil {
		return ChainResult{}, err
	}

	res, err := p.Run(mode, output)
	if err != nil {
		return ChainResult{}, err
	}
	for stage, d := range lapMap(sw) {
		res.Durations[stage] = d
	}
	return res, nil
}

// Output returns a copy of the raw model output for img.
func (p *Pipeline) Output(mode Mode, img image.Image) ([]float32, error) {
	output, err := p.output(mode, img, common.NewStopwatch())
	if err != nil {
		return nil, err
	}
	return slices.Clone(output), nil
}

func (p *Pipeline) output(mode Mode, img image.Image, sw *common.Stopwatch) ([]float32, error) {
	model := p.models[mode]
	if model == nil {
		return nil, detector.ErrModelUnavailable
	}
	sc := p.Stage(mode)

	input, err := utils.PrepareInput(img, utils.InputOptions{Size: sc.InputSize, Layout: sc.Layout, CenterCrop: sc.CenterCrop})
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(input)
	sw.Lap("preprocess")

	output, err := p.runModel(model, input)
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", mode, err)
	}
	sw.Lap("model")
	return output, nil
}

func (p *Pipeline) runModel(model Model, input []float32) ([]float32, error) {
	if p.inferMu != nil {
		p.inferMu.Lock()
		defer p.inferMu.Unlock()
	}
	return model.Run(input)
}

// Info returns a map with key pipeline properties and model info.
func (p *Pipeline) Info() map[string]interface{} {
	info := map[string]interface{}{
		"models_dir":          p.cfg.ModelsDir,
		"serialize_inference": p.cfg.SerializeInference,
		"warmup_iterations":   p.cfg.WarmupIterations,
	}
	for _, m := range Modes {
		sc := p.Stage(m)
		entry := map[string]interface{}{
			"available":        p.Available(m),
			"input_size":       sc.InputSize,
			"layout":           sc.Layout,
			"confidence_floor": sc.Decode.ConfidenceFloor,
			"class_base":       sc.Decode.ClassBase,
			"nms_method":       sc.NMSMethod,
			"nms_threshold":    sc.NMSThreshold,
			"line_fit":         sc.LineFit,
		}
		if det, ok := p.models[m].(*detector.Detector); ok {
			entry["model"] = det.GetModelInfo()
		}
		info[m.String()] = entry
	}
	return info
}

func lapMap(sw *common.Stopwatch) map[string]time.Duration {
	laps := sw.Laps()
	out := make(map[string]time.Duration, len(laps))
	for _, l := range laps {
		out[l.Stage] = l.Duration
	}
	return out
}

// lockedRand makes a PCG generator safe for concurrent chain runs.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed uint64) *lockedRand {
	if seed == 0 {
		return &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
