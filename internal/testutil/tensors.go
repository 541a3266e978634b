package testutil

import (
	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
)

// DigitTensor returns the output of a digit model with an inputSize square
// input that sees digits left to right on one row.
func DigitTensor(inputSize int, digits string) []float32 {
	t := mock.NewDetectionTensor(models.AnchorCount(inputSize), detector.DigitClassCount)
	for i, r := range digits {
		t.Set(i, mock.Box{
			CenterX: 0.2 + 0.15*float32(i), CenterY: 0.5,
			Width: 0.1, Height: 0.2,
			Class: int(r - '0'), Confidence: 0.9,
		})
	}
	return t.Data
}

// IndicatorTensor returns an indicator model output with one region
// covering DisplayRect.
func IndicatorTensor() []float32 {
	return mock.NewDetectionTensor(models.AnchorCount(224), detector.IndicatorClassCount).Set(0, mock.Box{
		CenterX: 0.5, CenterY: 0.5, Width: 0.5, Height: 0.25, Confidence: 0.9,
	}).Data
}
