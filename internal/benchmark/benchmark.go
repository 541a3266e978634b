// Package benchmark times the detection stages and whole pipeline modes.
package benchmark

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/meterread/internal/common"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
)

// ErrNotFound is returned for a benchmark name that was never added.
var ErrNotFound = errors.New("benchmark not found")

// Result holds the timings of one benchmark.
type Result struct {
	Name         string
	Iterations   int
	Total        time.Duration
	Min          time.Duration
	Max          time.Duration
	P50          time.Duration
	P95          time.Duration
	MemoryBefore common.MemoryStats
	MemoryAfter  common.MemoryStats
	Error        error
}

// Mean returns the average iteration time.
func (r Result) Mean() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Iterations)
}

// PerSecond returns the throughput implied by the mean.
func (r Result) PerSecond() float64 {
	if m := r.Mean(); m > 0 {
		return float64(time.Second) / float64(m)
	}
	return 0
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	memDiff := int64(r.MemoryAfter.Alloc) - int64(r.MemoryBefore.Alloc) //nolint:gosec // display only
	return fmt.Sprintf("%s: %d iterations, mean: %v, p50: %v, p95: %v, min: %v, max: %v, %.1f/s, mem: %+d KB",
		r.Name, r.Iterations, r.Mean(), r.P50, r.P95, r.Min, r.Max, r.PerSecond(), memDiff/1024)
}

// Benchmark is one named function to time.
type Benchmark struct {
	Name string
	Func func() error
}

// Suite runs benchmarks in the order they were added.
type Suite struct {
	mu         sync.Mutex
	benchmarks []Benchmark
	results    []Result
	warmup     int
}

// NewSuite creates a suite that runs warmup untimed iterations before each benchmark.
func NewSuite(warmup int) *Suite {
	return &Suite{warmup: max(warmup, 0)}
}

// Add adds a benchmark to the suite.
func (s *Suite) Add(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benchmarks = append(s.benchmarks, Benchmark{Name: name, Func: fn})
}

// Names returns the benchmark names in order.
func (s *Suite) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.benchmarks))
	for i, b := range s.benchmarks {
		names[i] = b.Name
	}
	return names
}

// Run runs a single benchmark with the given number of iterations.
func (s *Suite) Run(name string, iterations int) Result {
	s.mu.Lock()
	idx := slices.IndexFunc(s.benchmarks, func(b Benchmark) bool { return b.Name == name })
	if idx < 0 {
		s.mu.Unlock()
		return Result{Name: name, Error: fmt.Errorf("%w: %s", ErrNotFound, name)}
	}
	b := s.benchmarks[idx]
	s.mu.Unlock()

	r := s.run(b, iterations)
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	return r
}

// RunAll runs every benchmark and replaces the recorded results.
func (s *Suite) RunAll(iterations int) []Result {
	s.mu.Lock()
	benchmarks := slices.Clone(s.benchmarks)
	s.results = nil
	s.mu.Unlock()

	results := make([]Result, 0, len(benchmarks))
	for _, b := range benchmarks {
		results = append(results, s.run(b, iterations))
	}
	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return results
}

// Results returns the recorded results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// WriteResults prints one line per recorded result.
func (s *Suite) WriteResults(w io.Writer) error {
	for _, r := range s.Results() {
		if _, err := fmt.Fprintln(w, r.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Suite) run(b Benchmark, iterations int) Result {
	iterations = max(iterations, 1)
	r := Result{Name: b.Name}
	for range s.warmup {
		if err := b.Func(); err != nil {
			r.Error = fmt.Errorf("warmup: %w", err)
			return r
		}
	}

	samples := make([]time.Duration, 0, iterations)
	r.MemoryBefore = common.GetMemoryStats()
	for range iterations {
		start := time.Now()
		if err := b.Func(); err != nil {
			r.Error = err
			break
		}
		samples = append(samples, time.Since(start))
	}
	r.MemoryAfter = common.GetMemoryStats()
	summarize(&r, samples)
	return r
}

func summarize(r *Result, samples []time.Duration) {
	r.Iterations = len(samples)
	if len(samples) == 0 {
		return
	}
	slices.Sort(samples)
	for _, d := range samples {
		r.Total += d
	}
	r.Min = samples[0]
	r.Max = samples[len(samples)-1]
	r.P50 = percentile(samples, 0.50)
	r.P95 = percentile(samples, 0.95)
}

// percentile picks the nearest-rank value of sorted samples.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(q*float64(len(sorted))+0.5) - 1
	return sorted[min(max(rank, 0), len(sorted)-1)]
}

// PipelineSuite adds, for every available mode, one benchmark of the full
// inference on img and one of the post-processing chain alone on the
// output the model produced for img.
func PipelineSuite(p *pipeline.Pipeline, img image.Image, warmup int) (*Suite, error) {
	s := NewSuite(warmup)
	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // benchmark sampling
	added := 0
	for _, mode := range pipeline.Modes {
		if !p.Available(mode) {
			continue
		}
		output, err := p.Output(mode, img)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", mode, err)
		}
		sc := p.Stage(mode)
		s.Add("infer/"+mode.String(), func() error {
			_, err := p.Infer(mode, img)
			return err
		})
		s.Add("chain/"+mode.String(), func() error {
			_, err := pipeline.RunChain(output, sc, rng)
			return err
		})
		added++
	}
	if added == 0 {
		return nil, errors.New("no model available to benchmark")
	}
	return s, nil
}
