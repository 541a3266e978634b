package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/onnx"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime setup and model files",
	Long: `Check the ONNX Runtime installation and the configured model files.

This command verifies that:
- the ONNX Runtime shared library can be found and initialized
- the streaming, digit and indicator models exist in the models directory`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, "Checking ONNX Runtime setup...")

		var failed bool
		info, err := onnx.CheckRuntime(cfg.GPU.Enabled)
		if err != nil {
			failed = true
			_, _ = fmt.Fprintf(out, "  runtime      FAILED: %v\n", err)
			_, _ = fmt.Fprintf(out, "  set %s to the onnxruntime shared library\n", onnx.EnvLibraryPath)
		} else {
			_, _ = fmt.Fprintf(out, "  runtime      ok (version %s, %s)\n", info.Version, info.LibraryPath)
		}

		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintf(out, "Checking models in %s...\n", models.GetModelsDir(cfg.ModelsDir))
		pc := cfg.ToPipelineConfig()
		for _, m := range []struct {
			mode string
			path string
		}{
			{"streaming", pc.Streaming.ModelPath},
			{"still_digit", pc.Digit.ModelPath},
			{"still_indicator", pc.Indicator.ModelPath},
		} {
			if err := models.ValidateModelExists(m.path); err != nil {
				failed = true
				_, _ = fmt.Fprintf(out, "  %-16s missing: %s\n", m.mode, m.path)
				continue
			}
			desc := filepath.Base(m.path)
			if known, ok := models.LookupModel(m.path); ok {
				desc = fmt.Sprintf("%s (%dx%d, %d anchors)", known.Name, known.InputSize, known.InputSize, known.AnchorCount)
			}
			_, _ = fmt.Fprintf(out, "  %-16s ok %s\n", m.mode, desc)
		}

		if failed {
			return errors.New("setup check failed")
		}
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
