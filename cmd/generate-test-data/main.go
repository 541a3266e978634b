package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/spf13/pflag"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir  = pflag.StringP("output", "o", "", "output directory (default: <project>/testdata/synthetic)")
		photos  = pflag.Bool("photos", true, "generate still photos")
		frames  = pflag.Int("frames", 30, "number of streaming frames to generate (0 disables)")
		start   = pflag.Int("start", 12470, "meter value of the first frame")
		verbose = pflag.BoolP("verbose", "v", false, "verbose output")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic meter photos and frame sequences.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # photos and 30 frames\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --frames 0         # photos only\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  meterread stream testdata/synthetic/frames --interval 33\n")
	}
	pflag.Parse()

	dir := *outDir
	if dir == "" {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, "testdata", "synthetic")
	}
	if *verbose {
		slog.Info("Options", "output", dir, "photos", *photos, "frames", *frames, "start", *start)
	}

	if *photos {
		n, err := generatePhotos(filepath.Join(dir, "photos"))
		if err != nil {
			slog.Error("Failed to generate photos", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated still photos", "count", n)
	}

	if *frames > 0 {
		if err := generateFrames(filepath.Join(dir, "frames"), *frames, *start); err != nil {
			slog.Error("Failed to generate frames", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated streaming frames", "count", *frames)
	}
}

// generatePhotos writes one photo per meter type plus tilted variants.
func generatePhotos(dir string) (int, error) {
	variants := []struct {
		name     string
		digits   string
		rotation float64
	}{
		{"electricity", "0012475", 0},
		{"gas", "04821", 0},
		{"water", "00173", 0},
		{"tilted_5", "0012475", 5},
		{"tilted_-8", "0012475", -8},
	}
	for _, v := range variants {
		cfg := testutil.DefaultPhotoConfig()
		cfg.Width, cfg.Height = 640, 480
		cfg.Scale = 5
		cfg.Digits = v.digits
		cfg.Rotation = v.rotation
		path := filepath.Join(dir, "meter_"+v.name+".png")
		if err := testutil.WritePNG(path, testutil.MeterPhoto(cfg)); err != nil {
			return 0, fmt.Errorf("write %s: %w", path, err)
		}
	}
	return len(variants), nil
}

// generateFrames writes a counter that advances every tenth frame.
func generateFrames(dir string, count, start int) error {
	for i := range count {
		cfg := testutil.DefaultPhotoConfig()
		cfg.Width, cfg.Height = 256, 256
		cfg.Scale = 2
		cfg.Digits = fmt.Sprintf("%07s", strconv.Itoa(start+i/10))
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.png", i))
		if err := testutil.WritePNG(path, testutil.MeterPhoto(cfg)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
