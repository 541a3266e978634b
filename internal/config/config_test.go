package config

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 256, cfg.Models.Streaming.InputSize)
	assert.Equal(t, 640, cfg.Models.Digit.InputSize)
	assert.Equal(t, 224, cfg.Models.Indicator.InputSize)
	assert.InDelta(t, 0.04, cfg.Models.Streaming.ConfidenceFloor, 1e-6)
	assert.InDelta(t, 0.5, cfg.Models.Indicator.ConfidenceFloor, 1e-6)
	assert.Equal(t, "hard", cfg.Detection.NMSMethod)
	assert.InDelta(t, 0.5, cfg.Detection.NMSThreshold, 1e-6)
	assert.Equal(t, 30, cfg.Detection.LineFitIterations)
	assert.InDelta(t, 0.05, cfg.Detection.LineFitDistance, 1e-6)
	assert.Equal(t, 30, cfg.Still.MaskPaddingX)
	assert.Equal(t, 10, cfg.Still.MaskPaddingY)
	assert.Equal(t, 250, cfg.Stream.PollIntervalMs)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"input size", func(c *Config) { c.Models.Digit.InputSize = 300 }, "models.digit"},
		{"layout", func(c *Config) { c.Models.Streaming.Layout = "chw" }, "models.streaming"},
		{"floor", func(c *Config) { c.Models.Indicator.ConfidenceFloor = 1.5 }, "confidence_floor"},
		{"warmup", func(c *Config) { c.Models.WarmupIterations = -1 }, "warmup"},
		{"nms method", func(c *Config) { c.Detection.NMSMethod = "fast" }, "invalid nms method"},
		{"nms threshold", func(c *Config) { c.Detection.NMSThreshold = -0.1 }, "nms_threshold"},
		{"sigma", func(c *Config) { c.Detection.SoftNMSSigma = 0 }, "soft_nms_sigma"},
		{"iterations", func(c *Config) { c.Detection.LineFitIterations = 0 }, "line_fit_iterations"},
		{"distance", func(c *Config) { c.Detection.LineFitDistance = 2 }, "line_fit_distance"},
		{"poll", func(c *Config) { c.Stream.PollIntervalMs = 0 }, "poll_interval_ms"},
		{"history", func(c *Config) { c.Stream.HistorySize = 0 }, "history_size"},
		{"padding", func(c *Config) { c.Still.MaskPaddingY = -3 }, "mask padding"},
		{"meter type", func(c *Config) { c.Reading.Type = "steam" }, "unknown meter type"},
		{"decimals", func(c *Config) { c.Reading.Decimals = -1 }, "decimals"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"workers", func(c *Config) { c.Batch.Workers = 0 }, "batch workers"},
		{"debounce", func(c *Config) { c.Watch.DebounceMs = -5 }, "debounce"},
		{"memory limit", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "GPU memory limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ModelsDir = dir
	cfg.Models.Streaming.InputSize = 416
	cfg.Models.Streaming.CenterCrop = true
	cfg.Models.Digit.ModelPath = "/abs/digits.onnx"
	cfg.Models.NumThreads = 2
	cfg.Models.SerializeInference = true
	cfg.Detection.NMSMethod = detector.NMSMethodGaussian
	cfg.Detection.NMSThreshold = 0.3
	cfg.Detection.LineFitIterations = 60
	cfg.Detection.Seed = 9
	cfg.Stream.PollIntervalMs = 100
	cfg.Still.OutputDir = "/tmp/out"
	cfg.Still.MaskPaddingX = 4
	cfg.Batch.Workers = 3
	cfg.GPU.Enabled = true
	cfg.GPU.MemoryLimit = "2GB"

	pc := cfg.ToPipelineConfig()
	require.NoError(t, pc.Validate())

	assert.Equal(t, dir, pc.ModelsDir)
	assert.Equal(t, 416, pc.Streaming.InputSize)
	assert.Equal(t, 416, pc.StreamStage.InputSize)
	assert.Equal(t, models.AnchorCount(416), pc.StreamStage.Decode.AnchorCount)
	assert.True(t, pc.StreamStage.CenterCrop)
	assert.Equal(t, "/abs/digits.onnx", pc.Digit.ModelPath)
	assert.Contains(t, pc.Indicator.ModelPath, models.Indicator224)
	assert.Equal(t, 2, pc.Indicator.NumThreads)
	assert.True(t, pc.SerializeInference)
	assert.Equal(t, uint64(9), pc.Seed)

	for _, m := range pipeline.Modes {
		sc := pc.Stage(m)
		assert.Equal(t, detector.NMSMethodGaussian, sc.NMSMethod, m.String())
		assert.InDelta(t, 0.3, sc.NMSThreshold, 1e-6)
		assert.Equal(t, 60, sc.LineFitConfig.Iterations)
	}
	assert.False(t, pc.IndicatorStage.LineFit)
	assert.Equal(t, detector.IndicatorClassBase, pc.IndicatorStage.Decode.ClassBase)

	assert.Equal(t, 100*time.Millisecond, pc.Stream.PollInterval)
	assert.Equal(t, "/tmp/out", pc.Still.OutputDir)
	assert.Equal(t, 4, pc.Still.Padding.X)
	assert.Equal(t, 3, pc.Parallel.MaxWorkers)
	assert.True(t, pc.Digit.GPU.UseGPU)
	assert.Equal(t, uint64(2<<30), pc.Digit.GPU.MemoryLimit)
}

func TestOCROptions(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.OCROptions()
	assert.Equal(t, []string{"eng"}, opts.Languages)
	assert.Equal(t, 7, opts.PageSegMode)

	cfg.Still.OCRLanguages = []string{"deu"}
	cfg.Still.OCRWhitelist = "0123456789."
	opts = cfg.OCROptions()
	assert.Equal(t, []string{"deu"}, opts.Languages)
	assert.Equal(t, "0123456789.", opts.Whitelist)
}

func TestReadingOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reading.Type = "Gas"
	cfg.Reading.Decimals = 3
	opts := cfg.ReadingOptions()
	assert.Equal(t, reading.TypeGas, opts.Type)
	assert.Equal(t, 3, opts.Decimals)
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"512MB", 512 << 20, false},
		{"1gb", 1 << 30, false},
		{"1.5KB", 1536, false},
		{"100B", 100, false},
		{"12", 0, true},
		{"xMB", 0, true},
		{"-1GB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemoryLimit(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, validateThreshold(0, "x"))
	assert.NoError(t, validateThreshold(1, "x"))
	assert.Error(t, validateThreshold(1.01, "x"))
	assert.Error(t, validateThreshold(-0.01, "x"))
}
