package support

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/cucumber/godog"
)

// RegisterStreamSteps registers the live preview steps.
func (testCtx *TestContext) RegisterStreamSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a streaming model that reads "([^"]*)"$`, testCtx.aStreamingModelThatReads)
	sc.Step(`^no streaming model is loaded$`, testCtx.noStreamingModel)
	sc.Step(`^the streaming model reads "([^"]*)" from now on$`, testCtx.theStreamingModelReadsFromNowOn)
	sc.Step(`^the streaming model starts failing$`, testCtx.theStreamingModelStartsFailing)
	sc.Step(`^a camera frame arrives$`, testCtx.aCameraFrameArrives)
	sc.Step(`^a camera frame arrives while another frame is being read$`, testCtx.aFrameArrivesWhileBusy)
	sc.Step(`^the frame is "([^"]*)"$`, testCtx.theFrameIs)
	sc.Step(`^the latest reading is "([^"]*)"$`, testCtx.theLatestReadingIs)
	sc.Step(`^there is no latest reading$`, testCtx.thereIsNoLatestReading)
	sc.Step(`^the reading history is "([^"]*)"$`, testCtx.theReadingHistoryIs)
}

func (testCtx *TestContext) aStreamingModelThatReads(digits string) error {
	testCtx.StreamModel = mock.NewModel(testutil.DigitTensor(256, digits))
	return nil
}

func (testCtx *TestContext) noStreamingModel() error {
	testCtx.StreamModel = nil
	return nil
}

func (testCtx *TestContext) theStreamingModelReadsFromNowOn(digits string) error {
	if testCtx.StreamModel == nil {
		return errors.New("no streaming model configured")
	}
	testCtx.StreamModel.SetError(nil)
	testCtx.StreamModel.SetOutput(testutil.DigitTensor(256, digits))
	return nil
}

func (testCtx *TestContext) theStreamingModelStartsFailing() error {
	if testCtx.StreamModel == nil {
		return errors.New("no streaming model configured")
	}
	testCtx.StreamModel.SetError(errors.New("inference session lost"))
	return nil
}

func (testCtx *TestContext) aCameraFrameArrives() error {
	stream, poller, err := testCtx.Stream()
	if err != nil {
		return err
	}
	testCtx.LastOutcome = stream.OnFrame(testutil.Gradient(64, 48))
	poller.Poll()
	return nil
}

// aFrameArrivesWhileBusy holds the model inside a first run and offers a
// second frame before letting the first one finish.
func (testCtx *TestContext) aFrameArrivesWhileBusy() error {
	if testCtx.StreamModel == nil {
		return errors.New("no streaming model configured")
	}
	stream, poller, err := testCtx.Stream()
	if err != nil {
		return err
	}
	testCtx.StreamModel.Block()
	first := make(chan pipeline.FrameOutcome, 1)
	go func() { first <- stream.OnFrame(testutil.Gradient(64, 48)) }()

	select {
	case <-testCtx.StreamModel.Entered():
	case <-time.After(5 * time.Second):
		testCtx.StreamModel.Release()
		return errors.New("first frame never reached the model")
	}
	if !stream.Busy() {
		testCtx.StreamModel.Release()
		return errors.New("controller not busy during inference")
	}
	testCtx.LastOutcome = stream.OnFrame(testutil.Gradient(64, 48))
	testCtx.StreamModel.Release()

	if o := <-first; o != pipeline.FrameProcessed {
		return fmt.Errorf("first frame was %s", o)
	}
	poller.Poll()
	return nil
}

func (testCtx *TestContext) theFrameIs(outcome string) error {
	if testCtx.LastOutcome.String() != outcome {
		return fmt.Errorf("expected frame to be %s, got %s", outcome, testCtx.LastOutcome)
	}
	return nil
}

func (testCtx *TestContext) theLatestReadingIs(digits string) error {
	stream, _, err := testCtx.Stream()
	if err != nil {
		return err
	}
	latest := stream.Latest()
	if latest == nil {
		return errors.New("no reading has been published")
	}
	if latest.Digits != digits {
		return fmt.Errorf("expected latest reading %q, got %q", digits, latest.Digits)
	}
	return nil
}

func (testCtx *TestContext) thereIsNoLatestReading() error {
	stream, _, err := testCtx.Stream()
	if err != nil {
		return err
	}
	if latest := stream.Latest(); latest != nil {
		return fmt.Errorf("expected no reading, got %q", latest.Digits)
	}
	return nil
}

func (testCtx *TestContext) theReadingHistoryIs(list string) error {
	_, poller, err := testCtx.Stream()
	if err != nil {
		return err
	}
	var got []string
	for _, r := range poller.History() {
		got = append(got, r.Digits)
	}
	if strings.Join(got, ", ") != list {
		return fmt.Errorf("expected history %q, got %q", list, strings.Join(got, ", "))
	}
	return nil
}
