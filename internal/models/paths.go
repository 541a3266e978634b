package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	Digits256    = "digits_256.onnx"
	Digits416    = "digits_416.onnx"
	Digits640    = "digits_640.onnx"
	Indicator224 = "indicator_224.onnx"
)

// Model type directories under the models root.
const (
	TypeDigits    = "digits"
	TypeIndicator = "indicator"
)

// Default models directory.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "METERREAD_MODELS_DIR"

// Strides of the three detection heads. Each head contributes (S/stride)² anchors.
var headStrides = []int{8, 16, 32}

// ModelInfo describes one known model file.
type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	InputSize   int    `json:"input_size"`
	AnchorCount int    `json:"anchor_count"`
	ClassCount  int    `json:"class_count"`
}

// Planes returns the number of output planes (4 geometry planes plus classes).
func (m ModelInfo) Planes() int {
	return 4 + m.ClassCount
}

// AnchorCount returns the number of anchor positions of a detector with an
// S x S input: 1344 at 256, 3549 at 416, 8400 at 640, 1029 at 224.
func AnchorCount(inputSize int) int {
	n := 0
	for _, s := range headStrides {
		side := inputSize / s
		n += side * side
	}
	return n
}

// ValidateInputSize checks that every head divides the input size evenly.
func ValidateInputSize(inputSize int) error {
	if inputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", inputSize)
	}
	for _, s := range headStrides {
		if inputSize%s != 0 {
			return fmt.Errorf("input size %d is not a multiple of stride %d", inputSize, s)
		}
	}
	return nil
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: explicit argument, environment variable, project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers modelsDir/<type>/<file> and falls back to modelsDir/<file>.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetDigitModelPath returns the path of a digit model file.
func GetDigitModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = Digits256
	}
	return ResolveModelPath(modelsDir, TypeDigits, filename)
}

// GetIndicatorModelPath returns the path of an indicator model file.
func GetIndicatorModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = Indicator224
	}
	return ResolveModelPath(modelsDir, TypeIndicator, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

func digitModel(name string, size int, desc string) ModelInfo {
	return ModelInfo{
		Name:        name,
		Type:        TypeDigits,
		Description: desc,
		Filename:    fmt.Sprintf("digits_%d.onnx", size),
		InputSize:   size,
		AnchorCount: AnchorCount(size),
		ClassCount:  10,
	}
}

// ListAvailableModels returns the known model variants.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		digitModel("digits-256", 256, "Real-time digit detector"),
		digitModel("digits-416", 416, "Mid-resolution digit detector"),
		digitModel("digits-640", 640, "Still-image digit detector"),
		{
			Name:        "indicator-224",
			Type:        TypeIndicator,
			Description: "Indicator region detector",
			Filename:    Indicator224,
			InputSize:   224,
			AnchorCount: AnchorCount(224),
			ClassCount:  2,
		},
	}
}

// LookupModel finds a known model by file name.
func LookupModel(filename string) (ModelInfo, bool) {
	base := filepath.Base(filename)
	for _, m := range ListAvailableModels() {
		if m.Filename == base {
			return m, true
		}
	}
	return ModelInfo{}, false
}
