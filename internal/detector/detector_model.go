package detector

import (
	"errors"
	"fmt"
	"os"

	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// ErrModelUnavailable reports a model that is not loaded or already closed.
var ErrModelUnavailable = errors.New("model unavailable")

// Config holds the settings of one ONNX detection model.
type Config struct {
	ModelPath  string         // Path to the ONNX file
	InputSize  int            // Square input side S
	Layout     string         // "nchw" (default) or "nhwc"
	ClassCount int            // Class planes after the 4 geometry planes
	NumThreads int            // Intra-op threads, 0 for runtime default
	GPU        onnx.GPUConfig // CUDA acceleration
}

// DefaultConfig returns the real-time digit model configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:  models.GetDigitModelPath("", models.Digits256),
		InputSize:  256,
		Layout:     onnx.LayoutNCHW,
		ClassCount: DigitClassCount,
		GPU:        onnx.DefaultGPUConfig(),
	}
}

// DefaultIndicatorConfig returns the indicator model configuration.
func DefaultIndicatorConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelPath = models.GetIndicatorModelPath("", models.Indicator224)
	cfg.InputSize = 224
	cfg.ClassCount = IndicatorClassCount
	return cfg
}

// AnchorCount returns the number of anchors the model emits.
func (c Config) AnchorCount() int {
	return models.AnchorCount(c.InputSize)
}

// InputLen returns the number of floats in one input tensor.
func (c Config) InputLen() int {
	return 3 * c.InputSize * c.InputSize
}

// OutputLen returns the number of floats in one output tensor.
func (c Config) OutputLen() int {
	return (geometryPlanes + c.ClassCount) * c.AnchorCount()
}

// validateConfig validates the detector configuration.
func validateConfig(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if err := models.ValidateInputSize(cfg.InputSize); err != nil {
		return err
	}
	if cfg.ClassCount <= 0 {
		return fmt.Errorf("class count must be positive, got %d", cfg.ClassCount)
	}
	layout := cfg.Layout
	if layout == "" {
		layout = onnx.LayoutNCHW
	}
	if err := onnx.ValidateLayout(layout); err != nil {
		return err
	}
	return onnx.ValidateGPUConfig(cfg.GPU)
}

// validateModelFile checks if the model file exists.
func validateModelFile(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// validateModelInfo reads the model's input/output metadata and checks it
// against the declared layout.
func validateModelInfo(cfg Config) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	var none onnxruntime_go.InputOutputInfo
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return none, none, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return none, none, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return none, none, fmt.Errorf("expected 1 output, got %d", len(outputs))
	}

	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return none, none, fmt.Errorf("expected 4D input tensor, got %dD", len(in.Dimensions))
	}
	if err := onnx.VerifyPlanarOutput(out.Dimensions, geometryPlanes+cfg.ClassCount, cfg.AnchorCount()); err != nil {
		return none, none, fmt.Errorf("model output does not match configuration: %w", err)
	}
	return in, out, nil
}
