package pipeline

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
)

// StreamConfig configures the live reading path.
type StreamConfig struct {
	PollInterval         time.Duration // cadence of the latest-value poller
	HistorySize          int           // readings kept by the poller
	OverlayMinConfidence float32       // live overlay box filter
	OverlayLimit         int           // max overlay boxes
}

// DefaultStreamConfig returns the live preview defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval:         250 * time.Millisecond,
		HistorySize:          64,
		OverlayMinConfidence: 0.5,
		OverlayLimit:         5,
	}
}

// FrameOutcome is what happened to one offered frame.
type FrameOutcome int

const (
	FrameProcessed FrameOutcome = iota
	FrameDropped                // an inference was already running
	FrameSkipped                // no model available
	FrameFailed                 // the run errored or panicked
)

func (o FrameOutcome) String() string {
	switch o {
	case FrameProcessed:
		return "processed"
	case FrameDropped:
		return "dropped"
	case FrameSkipped:
		return "skipped"
	case FrameFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Observer receives pipeline events, typically to update metrics.
type Observer interface {
	FrameOutcome(o FrameOutcome)
	StageDurations(mode Mode, durations map[string]time.Duration)
	Inferring(busy bool)
}

type noopObserver struct{}

func (noopObserver) FrameOutcome(FrameOutcome)                     {}
func (noopObserver) StageDurations(Mode, map[string]time.Duration) {}
func (noopObserver) Inferring(bool)                                {}

// LatestCell holds the most recent streaming reading. One writer replaces
// it wholesale; any number of readers load it without locking. Stored
// readings must not be modified.
type LatestCell struct {
	p atomic.Pointer[Reading]
}

// Load returns the latest reading, or nil before the first run.
func (c *LatestCell) Load() *Reading { return c.p.Load() }

// Store publishes r.
func (c *LatestCell) Store(r *Reading) { c.p.Store(r) }

// StreamController runs at most one streaming inference at a time and drops
// frames offered while one is in flight. It never blocks the caller beyond
// the run it accepts and never returns run errors to it.
type StreamController struct {
	pipe     *Pipeline
	cell     *LatestCell
	busy     atomic.Bool
	seq      atomic.Uint64
	observer Observer
	logger   *slog.Logger
}

// NewStreamController creates a controller publishing into cell. A nil cell
// allocates a fresh one.
func NewStreamController(p *Pipeline, cell *LatestCell) *StreamController {
	if cell == nil {
		cell = &LatestCell{}
	}
	return &StreamController{
		pipe:     p,
		cell:     cell,
		observer: noopObserver{},
		logger:   slog.Default(),
	}
}

// SetObserver installs an event observer. Call before the first frame.
func (c *StreamController) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	c.observer = o
}

// Cell returns the latest-value cell.
func (c *StreamController) Cell() *LatestCell { return c.cell }

// Latest returns the latest published reading.
func (c *StreamController) Latest() *Reading { return c.cell.Load() }

// Busy reports whether an inference is in flight.
func (c *StreamController) Busy() bool { return c.busy.Load() }

// OnFrame offers one camera frame.
func (c *StreamController) OnFrame(img image.Image) FrameOutcome {
	if c.pipe == nil || !c.pipe.Available(ModeStreaming) {
		return c.report(FrameSkipped)
	}
	return c.accept(func() (ChainResult, error) {
		return c.pipe.Infer(ModeStreaming, img)
	})
}

// OnTensor offers an output tensor computed by an external model runtime.
func (c *StreamController) OnTensor(output []float32) FrameOutcome {
	if c.pipe == nil {
		return c.report(FrameSkipped)
	}
	return c.accept(func() (ChainResult, error) {
		return c.pipe.Run(ModeStreaming, output)
	})
}

func (c *StreamController) accept(run func() (ChainResult, error)) FrameOutcome {
	if !c.busy.CompareAndSwap(false, true) {
		return c.report(FrameDropped)
	}
	c.observer.Inferring(true)
	defer func() {
		c.busy.Store(false)
		c.observer.Inferring(false)
	}()
	return c.report(c.run(c.seq.Add(1), run))
}

func (c *StreamController) run(seq uint64, fn func() (ChainResult, error)) (outcome FrameOutcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Streaming run panicked", "sequence", seq, "panic", r)
			outcome = FrameFailed
		}
	}()

	start := time.Now()
	res, err := fn()
	if errors.Is(err, detector.ErrModelUnavailable) {
		c.logger.Debug("Streaming model unavailable", "sequence", seq)
		return FrameSkipped
	}
	if err != nil {
		c.logger.Warn("Streaming run failed", "sequence", seq, "error", err)
		return FrameFailed
	}

	c.observer.StageDurations(ModeStreaming, res.Durations)
	c.cell.Store(&Reading{
		Digits:     res.Digits,
		Detections: res.Inliers,
		Mode:       ModeStreaming.String(),
		Timestamp:  start,
		Duration:   time.Since(start),
		Sequence:   seq,
	})
	return FrameProcessed
}

func (c *StreamController) report(o FrameOutcome) FrameOutcome {
	c.observer.FrameOutcome(o)
	return o
}

// OverlayDetections returns the boxes to draw over the live preview.
func (c *StreamController) OverlayDetections() []detector.Detection {
	r := c.cell.Load()
	if r == nil {
		return nil
	}
	sc := DefaultStreamConfig()
	if c.pipe != nil {
		sc = c.pipe.Config().Stream
	}
	return detector.TopDetections(r.Detections, sc.OverlayMinConfidence, sc.OverlayLimit)
}
