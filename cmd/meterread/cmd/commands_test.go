package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/meterread/internal/config"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	testutil.SavePNG(t, path, testutil.Gradient(16, 16))
}

func TestExpandImagePaths(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	writePNG(t, filepath.Join(dir, "b.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o750))

	single := filepath.Join(dir, "a.png")
	paths, err := expandImagePaths([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), single}, paths)

	_, err = expandImagePaths([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestWatchable(t *testing.T) {
	assert.True(t, watchable("/in/meter.jpg"))
	assert.True(t, watchable("meter.PNG"))
	assert.False(t, watchable("/in/meter_mask.png"))
	assert.False(t, watchable("/in/.meter.png.123.tmp"))
	assert.False(t, watchable("/in/.hidden.png"))
	assert.False(t, watchable("/in/readme.txt"))
}

func TestWatchImages(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	got := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchImages(ctx, dir, 20*time.Millisecond, func(path string) {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
			got <- struct{}{}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o600))
	writePNG(t, filepath.Join(dir, "meter.png"))

	select {
	case <-got:
	case <-ctx.Done():
		t.Fatal("photo was not handled")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "meter.png")
	assert.NotContains(t, seen, "skip.txt")
}

func TestWatchImagesMissingDir(t *testing.T) {
	err := watchImages(context.Background(), filepath.Join(t.TempDir(), "gone"), time.Millisecond, func(string) {})
	assert.Error(t, err)
}

func TestBuildImageReport(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reading.Type = "electricity"
	cfg.Reading.Decimals = 1

	res := &pipeline.StillResult{
		Candidates: []pipeline.Candidate{
			{Label: pipeline.LabelDigitModel, Value: "12475"},
			{Label: pipeline.LabelOCR, Value: "12476"},
		},
		Confidence: 0.8,
		MaskPath:   "/tmp/meter_mask.png",
	}
	results := []pipeline.FileResult{
		{Path: "meter.png", Result: res},
		{Path: "broken.png", Err: errors.New("decode failed")},
	}

	t.Run("without candidate", func(t *testing.T) {
		reports := buildImageReport(results, "", &cfg)
		require.Len(t, reports, 2)
		assert.Nil(t, reports[0].Reading)
		assert.Len(t, reports[0].Candidates, 2)
		assert.Equal(t, "decode failed", reports[1].Error)
	})

	t.Run("with candidate", func(t *testing.T) {
		reports := buildImageReport(results, pipeline.LabelOCR, &cfg)
		require.NotNil(t, reports[0].Reading)
		assert.InDelta(t, 1247.6, reports[0].Reading.Value, 1e-9)
		assert.Equal(t, reading.TypeElectricity, reports[0].Reading.Type)
		assert.Equal(t, "/tmp/meter_mask.png", reports[0].Reading.ImageURI)
	})

	t.Run("unknown candidate", func(t *testing.T) {
		reports := buildImageReport(results[:1], "nope", &cfg)
		assert.Contains(t, reports[0].Error, `no candidate labeled "nope"`)
	})
}

func TestWriteTextReport(t *testing.T) {
	reports := []imageReport{
		{
			Path:       "meter.png",
			Result:     &pipeline.StillResult{MaskPath: "/tmp/meter_mask.png"},
			Candidates: []pipeline.Candidate{{Label: pipeline.LabelDigitModel, Value: "0815"}},
		},
		{Path: "empty.png", Result: &pipeline.StillResult{}},
		{Path: "broken.png", Error: "decode failed"},
	}
	var buf bytes.Buffer
	require.NoError(t, writeTextReport(&buf, reports))

	output := buf.String()
	assert.Contains(t, output, "meter.png:\n")
	assert.Contains(t, output, "digit model")
	assert.Contains(t, output, "0815")
	assert.Contains(t, output, "/tmp/meter_mask.png")
	assert.Contains(t, output, "empty.png:\n  no candidates")
	assert.Contains(t, output, "broken.png: error: decode failed")
}

func TestWriteJSONReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONReport(&buf, []imageReport{{Path: "meter.png", Error: "x"}}))
	assert.JSONEq(t, `[{"path":"meter.png","error":"x"}]`, buf.String())
}

func TestReplayFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"f1.png", "f2.png", "f3.png"} {
		writePNG(t, filepath.Join(dir, name))
	}
	paths, err := expandImagePaths([]string{dir})
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.Seed = 7
	p, err := pipeline.NewPipeline(cfg, map[pipeline.Mode]pipeline.Model{
		pipeline.ModeStreaming: mock.NewModel(testutil.DigitTensor(256, "345")),
	})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	var readings []pipeline.Reading
	counts := replayFrames(context.Background(), p, paths, time.Millisecond, 2, func(r pipeline.Reading) {
		readings = append(readings, r)
	})

	assert.Equal(t, 6, counts.total())
	assert.Positive(t, counts[pipeline.FrameProcessed])
	require.NotEmpty(t, readings)
	assert.Equal(t, "345", readings[len(readings)-1].Digits)
}

func TestReplayFramesCancelled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "f1.png"))

	p, err := pipeline.NewPipeline(pipeline.DefaultConfig(), map[pipeline.Mode]pipeline.Model{
		pipeline.ModeStreaming: mock.NewModel(testutil.DigitTensor(256, "1")),
	})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counts := replayFrames(ctx, p, []string{filepath.Join(dir, "f1.png")}, time.Hour, 1, func(pipeline.Reading) {})
	assert.Zero(t, counts.total())
}
