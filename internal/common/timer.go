// Package common provides stage timing and runtime statistics.
package common

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stopwatch records consecutive named laps of one pipeline run.
type Stopwatch struct {
	mu    sync.Mutex
	start time.Time
	last  time.Time
	laps  []Lap
}

// Lap is the time spent in one stage.
type Lap struct {
	Stage    string
	Duration time.Duration
}

// NewStopwatch starts a stopwatch.
func NewStopwatch() *Stopwatch {
	now := time.Now()
	return &Stopwatch{start: now, last: now}
}

// Lap closes the current stage under name and returns its duration.
func (s *Stopwatch) Lap(stage string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	d := now.Sub(s.last)
	s.last = now
	s.laps = append(s.laps, Lap{Stage: stage, Duration: d})
	return d
}

// Laps returns a copy of the recorded laps in order.
func (s *Stopwatch) Laps() []Lap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Lap(nil), s.laps...)
}

// Total returns the time since the stopwatch started.
func (s *Stopwatch) Total() time.Duration {
	return time.Since(s.start)
}

// String renders the laps as "stage=dur" pairs.
func (s *Stopwatch) String() string {
	laps := s.Laps()
	parts := make([]string, 0, len(laps))
	for _, l := range laps {
		parts = append(parts, fmt.Sprintf("%s=%v", l.Stage, l.Duration))
	}
	return strings.Join(parts, " ")
}
