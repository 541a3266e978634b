package onnx

import (
	"errors"
	"fmt"
)

// Input layouts of a square RGB model input.
const (
	LayoutNCHW = "nchw"
	LayoutNHWC = "nhwc"
)

// Tensor is a float32 tensor prepared for ONNX input. Data is row-major.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor builds a single-image tensor of shape [1, C, H, W] or
// [1, H, W, C] depending on layout. data must hold C*H*W values.
func NewImageTensor(data []float32, layout string, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	expected := c * h * w
	if len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	switch layout {
	case LayoutNCHW, "":
		return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
	case LayoutNHWC:
		return Tensor{Data: data, Shape: []int64{1, int64(h), int64(w), int64(c)}}, nil
	default:
		return Tensor{}, fmt.Errorf("unknown layout %q", layout)
	}
}

// ValidateLayout checks a layout name.
func ValidateLayout(layout string) error {
	switch layout {
	case LayoutNCHW, LayoutNHWC:
		return nil
	default:
		return fmt.Errorf("layout must be %q or %q, got %q", LayoutNCHW, LayoutNHWC, layout)
	}
}

// ValidateRank4 ensures a shape has rank 4 with positive dimensions.
func ValidateRank4(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length against the rank-4 shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateRank4(t.Shape); err != nil {
		return err
	}
	expected := int(t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3])
	if len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// PlanarShape reads (planes, anchors) from a detection output shape.
// Accepted shapes are [1, C, N] and [C, N]; dynamic dimensions (<=0) are rejected.
func PlanarShape(shape []int64) (int, int, error) {
	dims := shape
	if len(dims) == 3 {
		if dims[0] != 1 {
			return 0, 0, fmt.Errorf("batch dimension must be 1, got %d", dims[0])
		}
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("expected output shape [1, C, N], got %v", shape)
	}
	if dims[0] <= 0 || dims[1] <= 0 {
		return 0, 0, fmt.Errorf("output shape %v has dynamic or empty dimensions", shape)
	}
	return int(dims[0]), int(dims[1]), nil
}

// VerifyPlanarOutput checks an output shape against the declared planes and anchors.
// Dynamic dimensions in the model metadata are accepted as wildcards.
func VerifyPlanarOutput(shape []int64, planes, anchors int) error {
	dims := shape
	if len(dims) == 3 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return fmt.Errorf("expected output shape [1, C, N], got %v", shape)
	}
	if dims[0] > 0 && int(dims[0]) != planes {
		return fmt.Errorf("output has %d planes, want %d", dims[0], planes)
	}
	if dims[1] > 0 && int(dims[1]) != anchors {
		return fmt.Errorf("output has %d anchors, want %d", dims[1], anchors)
	}
	return nil
}

// TensorStats computes min, max and mean for debug output.
func TensorStats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
