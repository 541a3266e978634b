package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/spf13/cobra"
)

// streamCmd represents the stream command.
var streamCmd = &cobra.Command{
	Use:   "stream [frames or directories...]",
	Short: "Replay camera frames through the streaming pipeline",
	Long: `Replay a sequence of frames as if they came from a live camera.

Frames are offered at a fixed interval without waiting for inference, so
frames arriving while a run is in flight are dropped exactly as they would
be in a live preview. Every distinct reading is printed as one JSON line.

Examples:
  meterread stream frames/
  meterread stream frames/ --interval 33 --loop 3`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		interval, _ := cmd.Flags().GetInt("interval")
		loops, _ := cmd.Flags().GetInt("loop")
		if interval <= 0 {
			return fmt.Errorf("invalid interval: %d (must be positive)", interval)
		}

		paths, err := expandImagePaths(args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return errors.New("no supported frames found")
		}

		p, err := buildPipeline(cfg, pipeline.ModeStreaming)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		summary := replayFrames(ctx, p, paths, time.Duration(interval)*time.Millisecond, loops, func(r pipeline.Reading) {
			data, _ := json.Marshal(r)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		})
		slog.Info("Stream finished",
			"frames", summary.total(),
			"processed", summary[pipeline.FrameProcessed],
			"dropped", summary[pipeline.FrameDropped],
			"skipped", summary[pipeline.FrameSkipped],
			"failed", summary[pipeline.FrameFailed])
		return nil
	},
}

type outcomeCounts map[pipeline.FrameOutcome]int

func (c outcomeCounts) total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// replayFrames offers every frame on a ticker and reports each distinct
// reading through emit.
func replayFrames(ctx context.Context, p *pipeline.Pipeline, paths []string, interval time.Duration, loops int,
	emit func(pipeline.Reading),
) outcomeCounts {
	loops = max(loops, 1)
	controller := pipeline.NewStreamController(p, nil)
	poller := pipeline.NewPoller(controller.Cell(), p.Config().Stream.PollInterval, p.Config().Stream.HistorySize)

	readings, unsubscribe := poller.Subscribe(16)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for r := range readings {
			emit(r)
		}
	}()

	var (
		mu     sync.Mutex
		counts = outcomeCounts{}
		wg     sync.WaitGroup
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

frames:
	for range loops {
		for _, path := range paths {
			img, _, err := utils.LoadImage(path)
			if err != nil {
				slog.Warn("Skipping unreadable frame", "path", path, "error", err)
				continue
			}
			select {
			case <-ctx.Done():
				break frames
			case <-ticker.C:
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				o := controller.OnFrame(img)
				mu.Lock()
				counts[o]++
				mu.Unlock()
			}()
			poller.Poll()
		}
	}

	wg.Wait()
	poller.Poll()
	unsubscribe()
	<-printed
	return counts
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.Flags().Int("interval", 100, "milliseconds between frames")
	streamCmd.Flags().Int("loop", 1, "number of passes over the frames")
	streamCmd.Flags().String("stream-model", "", "override streaming model path")
	streamCmd.Flags().Int("input-size", 256, "streaming model input size (256, 416 or 640)")
	streamCmd.Flags().Bool("center-crop", false, "crop frames to a centered square before resizing")
	bindFlags(streamCmd.Flags(), []flagBinding{
		{"models.streaming.model_path", "stream-model"},
		{"models.streaming.input_size", "input-size"},
		{"models.streaming.center_crop", "center-crop"},
	})
}
