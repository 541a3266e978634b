package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/cucumber/godog"
)

// RegisterStillSteps registers the photo pipeline steps.
func (testCtx *TestContext) RegisterStillSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a digit model that reads "([^"]*)"$`, testCtx.aDigitModelThatReads)
	sc.Step(`^an indicator model that finds the display$`, testCtx.anIndicatorModelThatFindsTheDisplay)
	sc.Step(`^the digit model fails$`, testCtx.theDigitModelFails)
	sc.Step(`^an OCR engine that reads "([^"]*)"$`, testCtx.anOCREngineThatReads)
	sc.Step(`^no OCR engine is available$`, testCtx.noOCREngine)
	sc.Step(`^the photo "([^"]*)" is processed$`, testCtx.thePhotoIsProcessed)
	sc.Step(`^the candidates are:$`, testCtx.theCandidatesAre)
	sc.Step(`^a mask image for "([^"]*)" is written$`, testCtx.aMaskImageIsWritten)
	sc.Step(`^no indicator model is available$`, testCtx.noIndicatorModelIsAvailable)
	sc.Step(`^processing fails with "([^"]*)"$`, testCtx.processingFailsWith)
	sc.Step(`^choosing the "([^"]*)" candidate as a (\w+) reading with (\d+) decimals? gives ([\d.]+) (\S+)$`,
		testCtx.choosingTheCandidateGives)
}

func (testCtx *TestContext) aDigitModelThatReads(digits string) error {
	testCtx.DigitModel = mock.NewModel(testutil.DigitTensor(640, digits))
	return nil
}

func (testCtx *TestContext) anIndicatorModelThatFindsTheDisplay() error {
	testCtx.IndicatorModel = mock.NewModel(testutil.IndicatorTensor())
	return nil
}

func (testCtx *TestContext) theDigitModelFails() error {
	if testCtx.DigitModel == nil {
		testCtx.DigitModel = mock.NewModel(nil)
	}
	testCtx.DigitModel.SetError(errors.New("inference session lost"))
	return nil
}

func (testCtx *TestContext) anOCREngineThatReads(text string) error {
	testCtx.OCR = ocr.BackendFunc(func(context.Context, image.Image, ocr.Options) (string, error) {
		return text, nil
	})
	return nil
}

func (testCtx *TestContext) noOCREngine() error {
	testCtx.OCR = nil
	return nil
}

func (testCtx *TestContext) thePhotoIsProcessed(name string) error {
	still, err := testCtx.Still()
	if err != nil {
		return err
	}
	testCtx.StillResult, testCtx.StillErr = still.Process(context.Background(), photo(), filepath.Join("/photos", name))
	return nil
}

func (testCtx *TestContext) theCandidatesAre(table *godog.Table) error {
	if testCtx.StillErr != nil {
		return testCtx.StillErr
	}
	want := make([]pipeline.Candidate, 0, len(table.Rows))
	for _, row := range table.Rows[1:] {
		want = append(want, pipeline.Candidate{Label: row.Cells[0].Value, Value: row.Cells[1].Value})
	}
	got := testCtx.StillResult.Candidates
	if len(got) != len(want) {
		return fmt.Errorf("expected %d candidates, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("candidate %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	return nil
}

func (testCtx *TestContext) aMaskImageIsWritten(base string) error {
	if testCtx.StillResult == nil {
		return errors.New("no photo was processed")
	}
	path := testCtx.StillResult.MaskPath
	name := filepath.Base(path)
	if filepath.Dir(path) != testCtx.TempDir || !strings.HasPrefix(name, base+"_") || !strings.HasSuffix(name, "_mask.png") {
		return fmt.Errorf("expected a %s mask in %s, got %s", base, testCtx.TempDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("mask image missing: %w", err)
	}
	return nil
}

func (testCtx *TestContext) noIndicatorModelIsAvailable() error {
	testCtx.IndicatorModel = nil
	return nil
}

func (testCtx *TestContext) processingFailsWith(message string) error {
	if testCtx.StillErr == nil {
		return errors.New("expected processing to fail")
	}
	if !errors.Is(testCtx.StillErr, pipeline.ErrProcessImage) || pipeline.ErrProcessImage.Error() != message {
		return fmt.Errorf("expected %q, got %v", message, testCtx.StillErr)
	}
	return nil
}

func (testCtx *TestContext) choosingTheCandidateGives(label, typ string, decimals int, value float64, unit string) error {
	if testCtx.StillResult == nil {
		return errors.New("no photo was processed")
	}
	var digits string
	for _, c := range testCtx.StillResult.Candidates {
		if c.Label == label {
			digits = c.Value
		}
	}
	if digits == "" {
		return fmt.Errorf("no candidate labeled %q", label)
	}
	t, err := reading.ParseType(typ)
	if err != nil {
		return err
	}
	mr, err := reading.New(digits, reading.Options{
		Type:       t,
		Decimals:   decimals,
		Confidence: testCtx.StillResult.Confidence,
		ImageURI:   testCtx.StillResult.MaskPath,
	})
	if err != nil {
		return err
	}
	if math.Abs(mr.Value-value) > 1e-9 || mr.Unit != unit {
		return fmt.Errorf("expected %v %s, got %v %s", value, unit, mr.Value, mr.Unit)
	}
	return nil
}
