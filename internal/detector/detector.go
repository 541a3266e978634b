package detector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/meterread/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// Detector runs one planar-output detection model through ONNX Runtime.
// Run may be called concurrently; Close waits for in-flight runs.
type Detector struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewDetector loads the model described by config.
func NewDetector(config Config) (*Detector, error) {
	if config.Layout == "" {
		config.Layout = onnx.LayoutNCHW
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := validateModelFile(config.ModelPath); err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"input_size", config.InputSize,
		"layout", config.Layout,
		"classes", config.ClassCount,
		"gpu_enabled", config.GPU.UseGPU)

	if err := onnx.InitializeRuntime(config.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputInfo, outputInfo, err := validateModelInfo(config)
	if err != nil {
		return nil, err
	}

	session, err := createSession(inputInfo, outputInfo, config)
	if err != nil {
		return nil, err
	}

	slog.Debug("Detector initialized", "model_path", config.ModelPath, "anchors", config.AnchorCount())
	return &Detector{
		config:     config,
		session:    session,
		inputInfo:  inputInfo,
		outputInfo: outputInfo,
	}, nil
}

// Close releases the session. Further runs return ErrModelUnavailable.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			slog.Warn("Failed to destroy detector session", "error", err)
		}
		d.session = nil
	}
	return nil
}

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	return d.config
}

// DecodeConfig returns the decoder layout matching this model.
func (d *Detector) DecodeConfig(classBase int, floor float32) DecodeConfig {
	return DecodeConfig{
		AnchorCount:     d.config.AnchorCount(),
		ClassCount:      d.config.ClassCount,
		ClassBase:       classBase,
		ConfidenceFloor: floor,
	}
}

// Run performs one forward pass over a normalized S x S RGB buffer and
// returns the planar output buffer.
func (d *Detector) Run(input []float32) ([]float32, error) {
	tensor, err := onnx.NewImageTensor(input, d.config.Layout, 3, d.config.InputSize, d.config.InputSize)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, ErrModelUnavailable
	}

	start := time.Now()
	out, shape, err := runSession(d.session, tensor)
	if err != nil {
		return nil, err
	}
	if want := d.config.OutputLen(); len(out) != want {
		return nil, fmt.Errorf("%w: model returned %d values with shape %v, want %d",
			ErrMalformedTensor, len(out), shape, want)
	}

	slog.Debug("Detector inference", "model_path", d.config.ModelPath, "duration", time.Since(start))
	return out, nil
}

// Warmup runs a number of forward passes with a black input to reduce first-run latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}
	input := make([]float32, d.config.InputLen())
	for range iterations {
		if _, err := d.Run(input); err != nil {
			return fmt.Errorf("warmup failed: %w", err)
		}
	}
	return nil
}

// GetModelInfo returns information about the loaded model.
func (d *Detector) GetModelInfo() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return map[string]interface{}{
		"model_path":   d.config.ModelPath,
		"loaded":       d.session != nil,
		"input_name":   d.inputInfo.Name,
		"output_name":  d.outputInfo.Name,
		"input_shape":  d.inputInfo.Dimensions,
		"output_shape": d.outputInfo.Dimensions,
		"input_size":   d.config.InputSize,
		"layout":       d.config.Layout,
		"anchors":      d.config.AnchorCount(),
		"classes":      d.config.ClassCount,
		"num_threads":  d.config.NumThreads,
		"gpu": map[string]interface{}{
			"enabled":   d.config.GPU.UseGPU,
			"device_id": d.config.GPU.DeviceID,
		},
	}
}
