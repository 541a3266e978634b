package support

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/cucumber/godog"
)

// RegisterChainSteps registers the decode, suppression and line fit steps.
func (testCtx *TestContext) RegisterChainSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a real-time model output containing:$`, testCtx.aRealtimeOutputContaining)
	sc.Step(`^a real-time model output of (\d+) values$`, testCtx.aRealtimeOutputOfValues)
	sc.Step(`^the detection chain runs with seed (\d+)$`, testCtx.theDetectionChainRunsWithSeed)
	sc.Step(`^(\d+) detections? (?:is|are) decoded$`, testCtx.detectionsAreDecoded)
	sc.Step(`^(\d+) detections? (?:is|are) kept after suppression$`, testCtx.detectionsAreKept)
	sc.Step(`^(\d+) detections? (?:is|are) on the digit row$`, testCtx.detectionsAreInliers)
	sc.Step(`^the digit sequence is "([^"]*)"$`, testCtx.theDigitSequenceIs)
	sc.Step(`^the digit sequence is empty$`, testCtx.theDigitSequenceIsEmpty)
	sc.Step(`^the chain fails with a malformed tensor error$`, testCtx.theChainFailsWithMalformedTensor)
}

func (testCtx *TestContext) aRealtimeOutputContaining(table *godog.Table) error {
	anchors := pipeline.DefaultStageConfig(pipeline.ModeStreaming).Decode.AnchorCount
	testCtx.Tensor = mock.NewDetectionTensor(anchors, detector.DigitClassCount)
	if len(table.Rows) < 2 {
		return errors.New("table needs a header and at least one row")
	}
	header := table.Rows[0].Cells
	for i, row := range table.Rows[1:] {
		values := map[string]float64{}
		for j, cell := range row.Cells {
			v, err := strconv.ParseFloat(cell.Value, 64)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", i+1, header[j].Value, err)
			}
			values[header[j].Value] = v
		}
		testCtx.Tensor.Set(i, mock.Box{
			CenterX:    float32(values["center_x"]),
			CenterY:    float32(values["center_y"]),
			Width:      float32(values["width"]),
			Height:     float32(values["height"]),
			Class:      int(values["digit"]),
			Confidence: float32(values["confidence"]),
		})
	}
	return nil
}

func (testCtx *TestContext) aRealtimeOutputOfValues(n int) error {
	testCtx.Tensor = &mock.DetectionTensor{Data: make([]float32, n)}
	return nil
}

func (testCtx *TestContext) theDetectionChainRunsWithSeed(seed int) error {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	sc := pipeline.DefaultStageConfig(pipeline.ModeStreaming)
	testCtx.ChainResult, testCtx.ChainErr = pipeline.RunChain(testCtx.Tensor.Data, sc, rng)
	return nil
}

func (testCtx *TestContext) detectionsAreDecoded(n int) error {
	if testCtx.ChainErr != nil {
		return testCtx.ChainErr
	}
	if testCtx.ChainResult.Decoded != n {
		return fmt.Errorf("expected %d decoded detections, got %d", n, testCtx.ChainResult.Decoded)
	}
	return nil
}

func (testCtx *TestContext) detectionsAreKept(n int) error {
	if got := len(testCtx.ChainResult.Kept); got != n {
		return fmt.Errorf("expected %d kept detections, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) detectionsAreInliers(n int) error {
	if got := len(testCtx.ChainResult.Inliers); got != n {
		return fmt.Errorf("expected %d inliers, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) theDigitSequenceIs(want string) error {
	if testCtx.ChainErr != nil {
		return testCtx.ChainErr
	}
	if testCtx.ChainResult.Digits != want {
		return fmt.Errorf("expected digits %q, got %q", want, testCtx.ChainResult.Digits)
	}
	return nil
}

func (testCtx *TestContext) theDigitSequenceIsEmpty() error {
	return testCtx.theDigitSequenceIs("")
}

func (testCtx *TestContext) theChainFailsWithMalformedTensor() error {
	if !errors.Is(testCtx.ChainErr, detector.ErrMalformedTensor) {
		return fmt.Errorf("expected malformed tensor error, got %v", testCtx.ChainErr)
	}
	return nil
}
