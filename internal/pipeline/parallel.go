package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ProgressCallback reports batch progress.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
	OnError(current int, err error)
}

// ParallelConfig holds configuration for batch still-image processing.
type ParallelConfig struct {
	MaxWorkers       int              // 0 = runtime.NumCPU()
	ProgressCallback ProgressCallback // optional
}

// DefaultParallelConfig returns defaults for batch processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// FileResult is the outcome of one file of a batch.
type FileResult struct {
	Path   string       `json:"path"`
	Result *StillResult `json:"result,omitempty"`
	Err    error        `json:"-"`
}

type fileJob struct {
	index int
	path  string
}

type fileOutcome struct {
	index int
	FileResult
}

// ProcessFiles runs the still pipeline over paths with a worker pool.
// Results keep the input order; the returned error is the first per-file
// failure, or the context error when cancelled.
func (s *StillImagePipeline) ProcessFiles(ctx context.Context, paths []string, config ParallelConfig) ([]FileResult, error) {
	if len(paths) == 0 {
		return nil, errors.New("no images provided")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	config.MaxWorkers = min(config.MaxWorkers, len(paths))

	if config.ProgressCallback != nil {
		config.ProgressCallback.OnStart(len(paths))
		defer config.ProgressCallback.OnComplete()
	}

	jobs := make(chan fileJob, len(paths))
	results := make(chan fileOutcome, len(paths))

	var wg sync.WaitGroup
	for range config.MaxWorkers {
		wg.Add(1)
		go s.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, p := range paths {
			select {
			case jobs <- fileJob{index: i, path: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]FileResult, len(paths))
	for i, p := range paths {
		ordered[i].Path = p
	}
	processed := 0
	for r := range results {
		ordered[r.index] = r.FileResult
		processed++
		if config.ProgressCallback != nil {
			if r.Err != nil {
				config.ProgressCallback.OnError(processed, r.Err)
			}
			config.ProgressCallback.OnProgress(processed, len(paths))
		}
	}

	if err := ctx.Err(); err != nil {
		return ordered, err
	}
	for _, r := range ordered {
		if r.Err != nil {
			return ordered, fmt.Errorf("%s: %w", r.Path, r.Err)
		}
	}
	return ordered, nil
}

func (s *StillImagePipeline) worker(ctx context.Context, jobs <-chan fileJob, results chan<- fileOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res, err := s.ProcessFile(ctx, job.path)
			select {
			case results <- fileOutcome{index: job.index, FileResult: FileResult{Path: job.path, Result: res, Err: err}}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// LogProgressCallback logs batch progress using slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	interval  int
	mu        sync.Mutex
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs every interval items (10 when <= 0).
func NewLogProgressCallback(logger *slog.Logger, interval int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10
	}
	return &LogProgressCallback{logger: logger, interval: interval}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Info("Starting batch", "total", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	elapsed := time.Since(l.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(current) / elapsed.Seconds()
	}
	l.logger.Info("Batch progress",
		"current", current,
		"total", total,
		"percent", fmt.Sprintf("%.1f", float64(current)/float64(total)*100),
		"rate_per_sec", fmt.Sprintf("%.2f", rate))
}

func (l *LogProgressCallback) OnComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Info("Batch complete", "duration", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(current int, err error) {
	l.logger.Warn("Batch item failed", "item", current, "error", err)
}
