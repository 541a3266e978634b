package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath points at an explicit ONNX Runtime shared library.
const EnvLibraryPath = "METERREAD_ONNXRUNTIME_LIB"

var initMu sync.Mutex

// libraryName returns the shared library file name for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// LibraryCandidates lists the places searched for the runtime library, in order.
func LibraryCandidates(useGPU bool) []string {
	var out []string
	if p := os.Getenv(EnvLibraryPath); p != "" {
		out = append(out, p)
	}
	name, err := libraryName()
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	out = append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)
	if root, err := findProjectRoot(); err == nil {
		if useGPU {
			out = append(out, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
		}
		out = append(out, filepath.Join(root, "onnxruntime", "lib", name))
	}
	return out
}

// SetONNXLibraryPath points onnxruntime_go at the first library candidate that exists.
func SetONNXLibraryPath(useGPU bool) (string, error) {
	candidates := LibraryCandidates(useGPU)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			onnxruntime_go.SetSharedLibraryPath(p)
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (searched %d locations)", len(candidates))
}

// InitializeRuntime locates the shared library and initializes the environment once per process.
func InitializeRuntime(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	if _, err := SetONNXLibraryPath(useGPU); err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// RuntimeInfo reports what CheckRuntime found.
type RuntimeInfo struct {
	LibraryPath string `json:"library_path"`
	Version     string `json:"version"`
}

// CheckRuntime initializes the runtime and reports its library and version.
func CheckRuntime(useGPU bool) (RuntimeInfo, error) {
	var info RuntimeInfo
	for _, p := range LibraryCandidates(useGPU) {
		if _, err := os.Stat(p); err == nil {
			info.LibraryPath = p
			break
		}
	}
	if err := InitializeRuntime(useGPU); err != nil {
		return info, err
	}
	info.Version = onnxruntime_go.GetVersion()
	return info, nil
}
