package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Process meter photos as they appear in a directory",
	Long: `Watch a directory and run the still-image pipeline on every new photo.

A file is processed once it has not changed for the debounce interval.
Mask images written by meterread itself are ignored. Results are printed
as one JSON object per photo until interrupted.

Examples:
  meterread watch inbox/
  meterread watch inbox/ --debounce 500 --output-dir masks/`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		dir := cfg.Watch.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("no directory to watch")
		}
		candidate, _ := cmd.Flags().GetString("candidate")

		p, err := buildPipeline(cfg, pipeline.ModeStillImageDigit, pipeline.ModeStillImageIndicator)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()
		still := pipeline.NewStillImagePipeline(p, ocrBackend(cfg))

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
		return watchImages(ctx, dir, debounce, func(path string) {
			res, err := still.ProcessFile(ctx, path)
			fr := pipeline.FileResult{Path: path, Result: res, Err: err}
			if err != nil {
				slog.Warn("Failed to process photo", "path", path, "error", err)
			}
			reports := buildImageReport([]pipeline.FileResult{fr}, candidate, cfg)
			if err := writeJSONLine(cmd.OutOrStdout(), reports[0]); err != nil {
				slog.Error("Failed to write result", "error", err)
			}
		})
	},
}

// watchImages calls handle for every supported image created or rewritten in
// dir once it has been quiet for debounce. It returns when ctx is done.
func watchImages(ctx context.Context, dir string, debounce time.Duration, handle func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("Watching directory", "dir", dir, "debounce", debounce.String())

	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	ticker := time.NewTicker(debounce / 2)
	defer ticker.Stop()

	pending := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !watchable(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) >= debounce {
					delete(pending, path)
					handle(path)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watch error", "error", err)
		}
	}
}

// watchable skips unsupported files and masks produced by the pipeline.
func watchable(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "_mask.png") {
		return false
	}
	return utils.IsSupportedImage(name)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Int("debounce", 200, "milliseconds a file must be unchanged before processing")
	watchCmd.Flags().String("candidate", "", "build a meter reading from the candidate with this label")
	bindFlags(watchCmd.Flags(), []flagBinding{
		{"watch.debounce_ms", "debounce"},
	})
}
