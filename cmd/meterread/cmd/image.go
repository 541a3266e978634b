package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/meterread/internal/config"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [files or directories...]",
	Short: "Process meter photos and propose readings",
	Long: `Process one or more meter photos with the still-image pipeline.

Each photo is read by the digit model, masked around the indicator region
and optionally passed through OCR. Every source that produced digits is
listed as a labeled candidate. Directories are expanded to the images they
contain.

Supported formats: JPEG, PNG, BMP

Examples:
  meterread image meter.jpg
  meterread image photos/ --format json --workers 4
  meterread image meter.jpg --candidate "digit model" --reading-type electricity --decimals 1`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}
		cfg := GetConfig()

		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatText && format != outputFormatJSON {
			return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatText, outputFormatJSON)
		}
		candidate, _ := cmd.Flags().GetString("candidate")

		paths, err := expandImagePaths(args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.New("no supported images found")
		}

		p, err := buildPipeline(cfg, pipeline.ModeStillImageDigit, pipeline.ModeStillImageIndicator)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		still := pipeline.NewStillImagePipeline(p, ocrBackend(cfg))
		parallel := p.Config().Parallel
		if len(paths) > 1 {
			parallel.ProgressCallback = pipeline.NewLogProgressCallback(slog.Default(), 10)
		}
		results, procErr := still.ProcessFiles(cmd.Context(), paths, parallel)
		if procErr != nil && !cfg.Batch.ContinueOnError && len(results) == 0 {
			return procErr
		}

		out, closeOut, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer closeOut()

		report := buildImageReport(results, candidate, cfg)
		if format == outputFormatJSON {
			err = writeJSONReport(out, report)
		} else {
			err = writeTextReport(out, report)
		}
		if err != nil {
			return err
		}
		if procErr != nil && !cfg.Batch.ContinueOnError {
			return procErr
		}
		return nil
	},
}

// imageReport is one processed file as printed by the image and watch commands.
type imageReport struct {
	Path       string                `json:"path"`
	Result     *pipeline.StillResult `json:"result,omitempty"`
	Reading    *reading.MeterReading `json:"reading,omitempty"`
	Error      string                `json:"error,omitempty"`
	Candidates []pipeline.Candidate  `json:"-"`
}

func buildImageReport(results []pipeline.FileResult, candidate string, cfg *config.Config) []imageReport {
	reports := make([]imageReport, 0, len(results))
	for _, fr := range results {
		r := imageReport{Path: fr.Path, Result: fr.Result}
		if fr.Result != nil {
			r.Candidates = fr.Result.Candidates
		}
		if fr.Err != nil {
			r.Error = fr.Err.Error()
		} else if candidate != "" {
			mr, err := readingFor(fr.Result, candidate, cfg)
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Reading = &mr
			}
		}
		reports = append(reports, r)
	}
	return reports
}

// readingFor turns the candidate with the given label into a meter reading.
func readingFor(res *pipeline.StillResult, label string, cfg *config.Config) (reading.MeterReading, error) {
	idx := slices.IndexFunc(res.Candidates, func(c pipeline.Candidate) bool { return c.Label == label })
	if idx < 0 {
		return reading.MeterReading{}, fmt.Errorf("no candidate labeled %q", label)
	}
	opts := cfg.ReadingOptions()
	opts.Confidence = res.Confidence
	opts.ImageURI = res.MaskPath
	return reading.New(res.Candidates[idx].Value, opts)
}

func writeJSONReport(w io.Writer, reports []imageReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func writeTextReport(w io.Writer, reports []imageReport) error {
	for _, r := range reports {
		var b strings.Builder
		fmt.Fprintf(&b, "%s:", r.Path)
		if r.Error != "" {
			fmt.Fprintf(&b, " error: %s\n", r.Error)
		} else {
			b.WriteString("\n")
		}
		if len(r.Candidates) == 0 && r.Error == "" {
			b.WriteString("  no candidates\n")
		}
		for _, c := range r.Candidates {
			fmt.Fprintf(&b, "  %-16s %s\n", c.Label, c.Value)
		}
		if r.Result != nil && r.Result.MaskPath != "" {
			fmt.Fprintf(&b, "  mask             %s\n", r.Result.MaskPath)
		}
		if r.Reading != nil {
			fmt.Fprintf(&b, "  reading          %s\n", r.Reading.String())
		}
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// expandImagePaths replaces directories with the supported images inside them.
func expandImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if !e.IsDir() && utils.IsSupportedImage(e.Name()) {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	return paths, nil
}

func openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func addImageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("candidate", "", "build a meter reading from the candidate with this label")
	cmd.Flags().String("output-dir", "", "directory for mask images (default: system temp dir)")
	cmd.Flags().Bool("ocr", true, "run OCR over the masked image")
	cmd.Flags().Int("mask-padding-x", 30, "horizontal mask padding in pixels")
	cmd.Flags().Int("mask-padding-y", 10, "vertical mask padding in pixels")
	cmd.Flags().String("digit-model", "", "override digit model path")
	cmd.Flags().String("indicator-model", "", "override indicator model path")
	cmd.Flags().Int("workers", 0, "number of parallel workers (0 = number of CPUs)")
	cmd.Flags().Bool("continue-on-error", false, "exit successfully even when some images fail")
	cmd.Flags().String("reading-type", "general", "meter type (electricity, gas, water, general)")
	cmd.Flags().Int("decimals", 0, "digits after the decimal point")
}

func bindImageFlags(cmd *cobra.Command) {
	bindFlags(cmd.Flags(), []flagBinding{
		{"still.output_dir", "output-dir"},
		{"still.ocr_enabled", "ocr"},
		{"still.mask_padding_x", "mask-padding-x"},
		{"still.mask_padding_y", "mask-padding-y"},
		{"models.digit.model_path", "digit-model"},
		{"models.indicator.model_path", "indicator-model"},
		{"batch.workers", "workers"},
		{"batch.continue_on_error", "continue-on-error"},
		{"reading.type", "reading-type"},
		{"reading.decimals", "decimals"},
	})
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addImageFlags(imageCmd)
	bindImageFlags(imageCmd)
}

func writeJSONLine(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
