package main

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/meterread/internal/benchmark"
	"github.com/MeKo-Tech/meterread/internal/config"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/spf13/pflag"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	var (
		modelsDir  = pflag.String("models", "", "directory containing ONNX models (default: auto-detect)")
		imagePath  = pflag.StringP("image", "i", "", "image to run (default: synthetic meter photo)")
		iterations = pflag.IntP("iterations", "n", 20, "timed iterations per benchmark")
		warmup     = pflag.Int("warmup", 2, "untimed iterations before each benchmark")
		gpu        = pflag.Bool("gpu", false, "also run every benchmark with CUDA enabled")
		outputFile = pflag.StringP("output", "o", "", "also write results to this file")
	)
	pflag.Parse()

	img, err := loadImage(*imagePath)
	if err != nil {
		fatal("Failed to load image", err)
	}

	fmt.Println("meterread pipeline benchmark")
	fmt.Println("============================")

	var results []benchmark.Result
	runs := []bool{false}
	if *gpu {
		runs = append(runs, true)
	}
	for _, useGPU := range runs {
		res, err := run(*modelsDir, useGPU, img, *iterations, *warmup)
		if err != nil {
			if useGPU {
				slog.Warn("GPU run skipped", "error", err)
				continue
			}
			fatal("Benchmark failed", err)
		}
		results = append(results, res...)
	}

	if err := writeResults(os.Stdout, results); err != nil {
		fatal("Failed to print results", err)
	}
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			fatal("Failed to create output file", err)
		}
		defer func() { _ = f.Close() }()
		if err := writeResults(f, results); err != nil {
			fatal("Failed to write results", err)
		}
		fmt.Printf("Results saved to: %s\n", *outputFile)
	}
}

func run(modelsDir string, useGPU bool, img image.Image, iterations, warmup int) ([]benchmark.Result, error) {
	cfg := config.DefaultConfig()
	cfg.ModelsDir = modelsDir
	cfg.GPU.Enabled = useGPU
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).Build()
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Close() }()

	s, err := benchmark.PipelineSuite(p, img, warmup)
	if err != nil {
		return nil, err
	}
	results := s.RunAll(iterations)
	if useGPU {
		for i := range results {
			results[i].Name += " (gpu)"
		}
	}
	return results, nil
}

func loadImage(path string) (image.Image, error) {
	if path == "" {
		return testutil.MeterPhoto(testutil.DefaultPhotoConfig()), nil
	}
	img, _, err := utils.LoadImage(path)
	return img, err
}

func writeResults(w io.Writer, results []benchmark.Result) error {
	for _, r := range results {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
	}
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
