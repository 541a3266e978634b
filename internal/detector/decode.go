package detector

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// Plane offsets of the model output tensor.
const (
	planeCenterY = 0
	planeCenterX = 1
	planeHeight  = 2
	planeWidth   = 3

	geometryPlanes = 4
)

// Default confidence floors of the two detection regimes.
const (
	DefaultDigitFloor     float32 = 0.04
	DefaultIndicatorFloor float32 = 0.5
)

var (
	// ErrMalformedTensor reports an output buffer that does not match its declared shape.
	ErrMalformedTensor = errors.New("malformed output tensor")
	// ErrInvalidConfig reports a decoder configuration that cannot describe any tensor.
	ErrInvalidConfig = errors.New("invalid decode configuration")
)

// DecodeConfig describes the planar output layout of one model variant.
// Shape is declared, never inferred from the buffer length.
type DecodeConfig struct {
	AnchorCount     int     `json:"anchor_count"`
	ClassCount      int     `json:"class_count"`
	ClassBase       int     `json:"class_base"`
	ConfidenceFloor float32 `json:"confidence_floor"`
}

// DigitDecodeConfig returns the decode configuration of a digit model with n anchors.
func DigitDecodeConfig(anchors int) DecodeConfig {
	return DecodeConfig{
		AnchorCount:     anchors,
		ClassCount:      DigitClassCount,
		ConfidenceFloor: DefaultDigitFloor,
	}
}

// IndicatorDecodeConfig returns the decode configuration of the indicator model with n anchors.
func IndicatorDecodeConfig(anchors int) DecodeConfig {
	return DecodeConfig{
		AnchorCount:     anchors,
		ClassCount:      IndicatorClassCount,
		ClassBase:       IndicatorClassBase,
		ConfidenceFloor: DefaultIndicatorFloor,
	}
}

// Planes returns the number of channel planes, 4 geometry planes plus one per class.
func (c DecodeConfig) Planes() int {
	return geometryPlanes + c.ClassCount
}

// TensorLen returns the expected flat buffer length.
func (c DecodeConfig) TensorLen() int {
	return c.Planes() * c.AnchorCount
}

// Validate checks the configuration itself, independent of any buffer.
func (c DecodeConfig) Validate() error {
	if c.AnchorCount <= 0 {
		return fmt.Errorf("%w: anchor count must be positive, got %d", ErrInvalidConfig, c.AnchorCount)
	}
	if c.ClassCount <= 0 {
		return fmt.Errorf("%w: class count must be positive, got %d", ErrInvalidConfig, c.ClassCount)
	}
	if c.ClassBase < 0 {
		return fmt.Errorf("%w: class base must be non-negative, got %d", ErrInvalidConfig, c.ClassBase)
	}
	if c.ConfidenceFloor < 0 || math32.IsNaN(c.ConfidenceFloor) {
		return fmt.Errorf("%w: confidence floor must be >= 0, got %v", ErrInvalidConfig, c.ConfidenceFloor)
	}
	return nil
}

// Decode turns one planar model output into detections in anchor order.
//
// Plane 0 holds y-centers, plane 1 mirrored x-centers, plane 2 heights,
// plane 3 widths and the remaining planes per-class activations. Each anchor
// contributes its arg-max class when that activation reaches the floor.
func Decode(output []float32, cfg DecodeConfig) ([]Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if want := cfg.TensorLen(); len(output) != want {
		return nil, fmt.Errorf("%w: expected length %d (%d planes x %d anchors), got %d",
			ErrMalformedTensor, want, cfg.Planes(), cfg.AnchorCount, len(output))
	}

	n := cfg.AnchorCount
	plane := func(p int) []float32 { return output[p*n : (p+1)*n] }
	ys, xs, hs, ws := plane(planeCenterY), plane(planeCenterX), plane(planeHeight), plane(planeWidth)

	dets := make([]Detection, 0)
	for i := range n {
		best, bestConf := 0, output[geometryPlanes*n+i]
		for k := 1; k < cfg.ClassCount; k++ {
			if v := output[(geometryPlanes+k)*n+i]; v > bestConf {
				best, bestConf = k, v
			}
		}
		if !(bestConf >= cfg.ConfidenceFloor) {
			continue
		}
		dets = append(dets, Detection{
			CenterX:    1 - xs[i],
			CenterY:    ys[i],
			Width:      ws[i],
			Height:     hs[i],
			ClassID:    cfg.ClassBase + best,
			Confidence: bestConf,
		})
	}
	return dets, nil
}
