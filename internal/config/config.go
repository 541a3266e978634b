package config

import (
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/mask"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/onnx"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	stream := pipeline.DefaultStreamConfig()
	ocrOpts := ocr.DefaultOptions()
	lineFit := detector.DefaultLineFitConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Models: ModelsConfig{
			Streaming: ModelConfig{
				ModelPath:       models.Digits256,
				InputSize:       256,
				Layout:          onnx.LayoutNCHW,
				ConfidenceFloor: float64(detector.DefaultDigitFloor),
			},
			Digit: ModelConfig{
				ModelPath:       models.Digits640,
				InputSize:       640,
				Layout:          onnx.LayoutNCHW,
				ConfidenceFloor: float64(detector.DefaultDigitFloor),
			},
			Indicator: ModelConfig{
				ModelPath:       models.Indicator224,
				InputSize:       224,
				Layout:          onnx.LayoutNCHW,
				ConfidenceFloor: float64(detector.DefaultIndicatorFloor),
			},
		},
		Detection: DetectionConfig{
			NMSMethod:          detector.NMSMethodHard,
			NMSThreshold:       float64(detector.DefaultIoUThreshold),
			SoftNMSSigma:       0.5,
			SoftNMSScoreThresh: float64(detector.DefaultDigitFloor),
			LineFitIterations:  lineFit.Iterations,
			LineFitDistance:    float64(lineFit.DistanceThreshold),
		},
		Stream: StreamConfig{
			PollIntervalMs:       int(stream.PollInterval / time.Millisecond),
			HistorySize:          stream.HistorySize,
			OverlayMinConfidence: float64(stream.OverlayMinConfidence),
			OverlayLimit:         stream.OverlayLimit,
		},
		Still: StillConfig{
			MaskPaddingX: mask.DefaultPadding.X,
			MaskPaddingY: mask.DefaultPadding.Y,
			OCREnabled:   true,
			OCRLanguages: ocrOpts.Languages,
			OCRWhitelist: ocrOpts.Whitelist,
			OCRPageSeg:   ocrOpts.PageSegMode,
		},
		Reading: ReadingConfig{
			Type: string(reading.TypeGeneral),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Batch: BatchConfig{
			Workers: runtime.NumCPU(),
		},
		Watch: WatchConfig{
			DebounceMs: 200,
		},
		GPU: GPUConfig{
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns the first error.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	for name, m := range map[string]ModelConfig{
		"streaming": c.Models.Streaming,
		"digit":     c.Models.Digit,
		"indicator": c.Models.Indicator,
	} {
		if err := models.ValidateInputSize(m.InputSize); err != nil {
			return fmt.Errorf("models.%s: %w", name, err)
		}
		if m.Layout != "" {
			if err := onnx.ValidateLayout(m.Layout); err != nil {
				return fmt.Errorf("models.%s: %w", name, err)
			}
		}
		if err := validateThreshold(m.ConfidenceFloor, "models."+name+".confidence_floor"); err != nil {
			return err
		}
	}
	if c.Models.WarmupIterations < 0 {
		return fmt.Errorf("invalid warmup iterations: %d (must be >= 0)", c.Models.WarmupIterations)
	}

	validMethods := []string{detector.NMSMethodHard, detector.NMSMethodLinear, detector.NMSMethodGaussian}
	if !slices.Contains(validMethods, c.Detection.NMSMethod) {
		return fmt.Errorf("invalid nms method: %s (must be one of: %s)", c.Detection.NMSMethod, strings.Join(validMethods, ", "))
	}
	if err := validateThreshold(c.Detection.NMSThreshold, "detection.nms_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detection.SoftNMSScoreThresh, "detection.soft_nms_score_thresh"); err != nil {
		return err
	}
	if c.Detection.SoftNMSSigma <= 0 {
		return fmt.Errorf("invalid detection.soft_nms_sigma: %.2f (must be positive)", c.Detection.SoftNMSSigma)
	}
	if c.Detection.LineFitIterations <= 0 {
		return fmt.Errorf("invalid detection.line_fit_iterations: %d (must be positive)", c.Detection.LineFitIterations)
	}
	if err := validateThreshold(c.Detection.LineFitDistance, "detection.line_fit_distance"); err != nil {
		return err
	}

	if c.Stream.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid stream.poll_interval_ms: %d (must be positive)", c.Stream.PollIntervalMs)
	}
	if c.Stream.HistorySize <= 0 {
		return fmt.Errorf("invalid stream.history_size: %d (must be positive)", c.Stream.HistorySize)
	}
	if err := validateThreshold(c.Stream.OverlayMinConfidence, "stream.overlay_min_confidence"); err != nil {
		return err
	}

	if c.Still.MaskPaddingX < 0 || c.Still.MaskPaddingY < 0 {
		return fmt.Errorf("invalid mask padding: %dx%d (must be non-negative)", c.Still.MaskPaddingX, c.Still.MaskPaddingY)
	}

	if _, err := reading.ParseType(c.Reading.Type); err != nil {
		return err
	}
	if c.Reading.Decimals < 0 {
		return fmt.Errorf("invalid reading.decimals: %d (must be >= 0)", c.Reading.Decimals)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("invalid watch.debounce_ms: %d (must be >= 0)", c.Watch.DebounceMs)
	}

	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = models.GetModelsDir(c.ModelsDir)
	cfg.WarmupIterations = c.Models.WarmupIterations
	cfg.SerializeInference = c.Models.SerializeInference
	cfg.Seed = c.Detection.Seed

	gpu := c.toGPUConfig()
	c.applyModel(&cfg.Streaming, &cfg.StreamStage, c.Models.Streaming, models.TypeDigits, cfg.ModelsDir, gpu)
	c.applyModel(&cfg.Digit, &cfg.DigitStage, c.Models.Digit, models.TypeDigits, cfg.ModelsDir, gpu)
	c.applyModel(&cfg.Indicator, &cfg.IndicatorStage, c.Models.Indicator, models.TypeIndicator, cfg.ModelsDir, gpu)

	cfg.Stream = pipeline.StreamConfig{
		PollInterval:         time.Duration(c.Stream.PollIntervalMs) * time.Millisecond,
		HistorySize:          c.Stream.HistorySize,
		OverlayMinConfidence: float32(c.Stream.OverlayMinConfidence),
		OverlayLimit:         c.Stream.OverlayLimit,
	}
	cfg.Still = pipeline.StillConfig{
		OutputDir: c.Still.OutputDir,
		Padding:   mask.Padding{X: c.Still.MaskPaddingX, Y: c.Still.MaskPaddingY},
		OCR:       c.OCROptions(),
	}
	cfg.Parallel.MaxWorkers = c.Batch.Workers
	return cfg
}

func (c *Config) applyModel(mc *detector.Config, sc *pipeline.StageConfig, m ModelConfig, modelType, modelsDir string, gpu onnx.GPUConfig) {
	if m.ModelPath != "" {
		mc.ModelPath = models.ResolveModelPath(modelsDir, modelType, m.ModelPath)
	}
	if m.InputSize > 0 {
		mc.InputSize = m.InputSize
		*sc = sc.WithInputSize(m.InputSize)
	}
	if m.Layout != "" {
		mc.Layout = m.Layout
		sc.Layout = m.Layout
	}
	mc.NumThreads = c.Models.NumThreads
	mc.GPU = gpu

	sc.CenterCrop = m.CenterCrop
	sc.Decode.ConfidenceFloor = float32(m.ConfidenceFloor)
	sc.NMSMethod = c.Detection.NMSMethod
	sc.NMSThreshold = float32(c.Detection.NMSThreshold)
	sc.SoftNMSSigma = float32(c.Detection.SoftNMSSigma)
	sc.SoftNMSScoreThresh = float32(c.Detection.SoftNMSScoreThresh)
	sc.LineFitConfig = detector.LineFitConfig{
		Iterations:        c.Detection.LineFitIterations,
		DistanceThreshold: float32(c.Detection.LineFitDistance),
	}
}

func (c *Config) toGPUConfig() onnx.GPUConfig {
	gpu := onnx.DefaultGPUConfig()
	gpu.UseGPU = c.GPU.Enabled
	gpu.DeviceID = c.GPU.Device
	gpu.MemoryLimit, _ = ParseMemoryLimit(c.GPU.MemoryLimit)
	return gpu
}

// OCROptions returns the recognition options of the OCR-on-mask candidate.
func (c *Config) OCROptions() ocr.Options {
	opts := ocr.DefaultOptions()
	if len(c.Still.OCRLanguages) > 0 {
		opts.Languages = c.Still.OCRLanguages
	}
	if c.Still.OCRWhitelist != "" {
		opts.Whitelist = c.Still.OCRWhitelist
	}
	if c.Still.OCRPageSeg > 0 {
		opts.PageSegMode = c.Still.OCRPageSeg
	}
	return opts
}

// ReadingOptions returns the options that turn digits into a MeterReading.
func (c *Config) ReadingOptions() reading.Options {
	t, err := reading.ParseType(c.Reading.Type)
	if err != nil {
		t = reading.TypeGeneral
	}
	return reading.Options{Type: t, Unit: c.Reading.Unit, Decimals: c.Reading.Decimals}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit parses a GPU memory limit such as "1GB" or "512MB" into
// bytes. "" and "auto" mean no limit (0).
func ParseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
