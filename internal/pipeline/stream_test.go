package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamProcessesFrame(t *testing.T) {
	m := mock.NewModel(digitRow(streamAnchors, "314", 0.5).Data)
	c := NewStreamController(newTestPipeline(t, testConfig(t), map[Mode]Model{ModeStreaming: m}), nil)
	obs := newRecordingObserver()
	c.SetObserver(obs)

	assert.Nil(t, c.Latest())
	assert.Equal(t, FrameProcessed, c.OnFrame(testImage(64, 64)))

	r := c.Latest()
	require.NotNil(t, r)
	assert.Equal(t, "314", r.Digits)
	assert.Equal(t, "streaming", r.Mode)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.Len(t, r.Detections, 3)
	assert.False(t, c.Busy())

	assert.Equal(t, []FrameOutcome{FrameProcessed}, obs.Outcomes())
	assert.Equal(t, 1, obs.stages[ModeStreaming])
	assert.Equal(t, []bool{true, false}, obs.busy)
}

func TestStreamDropsFramesWhileBusy(t *testing.T) {
	m := mock.NewModel(digitRow(streamAnchors, "7", 0.5).Data)
	m.Block()
	c := NewStreamController(newTestPipeline(t, testConfig(t), map[Mode]Model{ModeStreaming: m}), nil)

	done := make(chan FrameOutcome)
	go func() { done <- c.OnFrame(testImage(16, 16)) }()
	<-m.Entered()

	assert.True(t, c.Busy())
	for range 5 {
		assert.Equal(t, FrameDropped, c.OnFrame(testImage(16, 16)))
	}
	assert.Nil(t, c.Latest(), "nothing is published before the run completes")

	m.Release()
	assert.Equal(t, FrameProcessed, <-done)
	assert.False(t, c.Busy())
	assert.Equal(t, 1, m.Calls(), "dropped frames are never queued")
	assert.Equal(t, "7", c.Latest().Digits)
}

func TestStreamSkipsWithoutModel(t *testing.T) {
	c := NewStreamController(newTestPipeline(t, testConfig(t), nil), nil)
	assert.Equal(t, FrameSkipped, c.OnFrame(testImage(16, 16)))
	assert.Nil(t, c.Latest())

	nilPipe := NewStreamController(nil, nil)
	assert.Equal(t, FrameSkipped, nilPipe.OnFrame(testImage(16, 16)))
	assert.Equal(t, FrameSkipped, nilPipe.OnTensor(nil))
}

func TestStreamFailureKeepsPreviousReading(t *testing.T) {
	m := mock.NewModel(digitRow(streamAnchors, "55", 0.5).Data)
	c := NewStreamController(newTestPipeline(t, testConfig(t), map[Mode]Model{ModeStreaming: m}), nil)
	require.Equal(t, FrameProcessed, c.OnFrame(testImage(16, 16)))

	m.SetError(errors.New("inference failed"))
	assert.Equal(t, FrameFailed, c.OnFrame(testImage(16, 16)))
	assert.Equal(t, "55", c.Latest().Digits)
	assert.Equal(t, uint64(1), c.Latest().Sequence)
	assert.False(t, c.Busy())
}

func TestStreamRecoversPanic(t *testing.T) {
	c := NewStreamController(newTestPipeline(t, testConfig(t), map[Mode]Model{ModeStreaming: panicModel{}}), nil)
	assert.NotPanics(t, func() {
		assert.Equal(t, FrameFailed, c.OnFrame(testImage(16, 16)))
	})
	assert.False(t, c.Busy(), "flag is released after a panic")
	assert.Equal(t, FrameFailed, c.OnFrame(testImage(16, 16)))
}

func TestStreamOnTensor(t *testing.T) {
	c := NewStreamController(newTestPipeline(t, testConfig(t), nil), nil)
	assert.Equal(t, FrameProcessed, c.OnTensor(digitRow(streamAnchors, "89", 0.3).Data))
	assert.Equal(t, "89", c.Latest().Digits)

	assert.Equal(t, FrameFailed, c.OnTensor(make([]float32, 3)))
	assert.Equal(t, "89", c.Latest().Digits)
}

func TestStreamEmptyReadingIsPublished(t *testing.T) {
	c := NewStreamController(newTestPipeline(t, testConfig(t), nil), nil)
	require.Equal(t, FrameProcessed, c.OnTensor(digitRow(streamAnchors, "1", 0.5).Data))
	require.Equal(t, FrameProcessed, c.OnTensor(digitRow(streamAnchors, "", 0.5).Data))

	r := c.Latest()
	require.NotNil(t, r)
	assert.True(t, r.Empty())
	assert.Equal(t, uint64(2), r.Sequence)
}

func TestStreamConcurrentFrames(t *testing.T) {
	m := mock.NewModel(digitRow(streamAnchors, "24", 0.5).Data)
	c := NewStreamController(newTestPipeline(t, testConfig(t), map[Mode]Model{ModeStreaming: m}), nil)

	var processed, dropped atomic.Int64
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch c.OnFrame(testImage(16, 16)) {
			case FrameProcessed:
				processed.Add(1)
			case FrameDropped:
				dropped.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(32), processed.Load()+dropped.Load())
	assert.Equal(t, processed.Load(), int64(m.Calls()))
	assert.GreaterOrEqual(t, processed.Load(), int64(1))
	assert.Equal(t, uint64(processed.Load()), c.Latest().Sequence)
}

func TestStreamSharedCell(t *testing.T) {
	cell := &LatestCell{}
	c := NewStreamController(newTestPipeline(t, testConfig(t), nil), cell)
	assert.Same(t, cell, c.Cell())
	c.OnTensor(digitRow(streamAnchors, "3", 0.5).Data)
	assert.Equal(t, "3", cell.Load().Digits)
}

func TestOverlayDetections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stream.OverlayLimit = 2
	c := NewStreamController(newTestPipeline(t, cfg, nil), nil)
	assert.Nil(t, c.OverlayDetections())

	c.OnTensor(digitRow(streamAnchors, "1234", 0.5).Data)
	assert.Len(t, c.OverlayDetections(), 2)
}

func TestFrameOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", FrameProcessed.String())
	assert.Equal(t, "dropped", FrameDropped.String())
	assert.Equal(t, "skipped", FrameSkipped.String())
	assert.Equal(t, "failed", FrameFailed.String())
}
