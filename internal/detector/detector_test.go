package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, models.GetDigitModelPath("", models.Digits256), cfg.ModelPath)
	assert.Equal(t, 256, cfg.InputSize)
	assert.Equal(t, 1344, cfg.AnchorCount())
	assert.Equal(t, 14*1344, cfg.OutputLen())
	assert.Equal(t, 3*256*256, cfg.InputLen())

	ind := DefaultIndicatorConfig()
	assert.Equal(t, 1029, ind.AnchorCount())
	assert.Equal(t, 6*1029, ind.OutputLen())
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{name: "empty path", mutate: func(c *Config) { c.ModelPath = "" }, wantMsg: "model path cannot be empty"},
		{name: "missing file", mutate: func(c *Config) { c.ModelPath = "nonexistent/model.onnx" }, wantMsg: "model file not found"},
		{name: "bad input size", mutate: func(c *Config) { c.InputSize = 250 }, wantMsg: "not a multiple"},
		{name: "bad layout", mutate: func(c *Config) { c.Layout = "chw" }, wantMsg: "layout"},
		{name: "no classes", mutate: func(c *Config) { c.ClassCount = 0 }, wantMsg: "class count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
			tt.mutate(&cfg)
			det, err := NewDetector(cfg)
			require.Error(t, err)
			assert.Nil(t, det)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDetector_RunWithRealModel(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		t.Skip("Digit model not available, skipping test")
	}

	det, err := NewDetector(cfg)
	require.NoError(t, err)
	defer func() { _ = det.Close() }()

	require.NoError(t, det.Warmup(1))
	out, err := det.Run(make([]float32, cfg.InputLen()))
	require.NoError(t, err)
	assert.Len(t, out, cfg.OutputLen())

	_, err = det.Run(make([]float32, 10))
	assert.Error(t, err)

	require.NoError(t, det.Close())
	_, err = det.Run(make([]float32, cfg.InputLen()))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}
