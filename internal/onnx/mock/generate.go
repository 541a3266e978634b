package mock

import (
	"math/rand/v2"
)

// DetectionTensor is a synthetic planar detector output: 4 geometry planes
// followed by one plane per class, each AnchorCount long.
type DetectionTensor struct {
	Data        []float32
	AnchorCount int
	ClassCount  int
}

// Box is one synthetic detection written into a tensor, in normalized,
// unmirrored coordinates.
type Box struct {
	CenterX, CenterY float32
	Width, Height    float32
	Class            int
	Confidence       float32
}

// NewDetectionTensor returns an all-zero tensor.
func NewDetectionTensor(anchors, classes int) *DetectionTensor {
	if anchors <= 0 || classes <= 0 {
		return &DetectionTensor{}
	}
	return &DetectionTensor{
		Data:        make([]float32, (4+classes)*anchors),
		AnchorCount: anchors,
		ClassCount:  classes,
	}
}

// Shape returns the ONNX shape [1, C, N].
func (t *DetectionTensor) Shape() []int64 {
	return []int64{1, int64(4 + t.ClassCount), int64(t.AnchorCount)}
}

func (t *DetectionTensor) set(plane, anchor int, v float32) {
	t.Data[plane*t.AnchorCount+anchor] = v
}

// Set writes a box at the given anchor. The x-center is stored mirrored the
// way the models emit it.
func (t *DetectionTensor) Set(anchor int, b Box) *DetectionTensor {
	if anchor < 0 || anchor >= t.AnchorCount || b.Class < 0 || b.Class >= t.ClassCount {
		return t
	}
	t.set(0, anchor, b.CenterY)
	t.set(1, anchor, 1-b.CenterX)
	t.set(2, anchor, b.Height)
	t.set(3, anchor, b.Width)
	t.set(4+b.Class, anchor, clamp01(b.Confidence))
	return t
}

// SetActivation writes one class activation without touching geometry.
func (t *DetectionTensor) SetActivation(anchor, class int, v float32) *DetectionTensor {
	if anchor < 0 || anchor >= t.AnchorCount || class < 0 || class >= t.ClassCount {
		return t
	}
	t.set(4+class, anchor, v)
	return t
}

// Activation reads one class activation.
func (t *DetectionTensor) Activation(anchor, class int) float32 {
	return t.Data[(4+class)*t.AnchorCount+anchor]
}

// NewRowTensor places boxes at consecutive anchors starting at 0.
func NewRowTensor(anchors, classes int, boxes ...Box) *DetectionTensor {
	t := NewDetectionTensor(anchors, classes)
	for i, b := range boxes {
		t.Set(i, b)
	}
	return t
}

// NewRandomTensor fills every plane with uniform noise. Geometry is kept in
// [0,1] and activations in [0, maxActivation].
func NewRandomTensor(rng *rand.Rand, anchors, classes int, maxActivation float32) *DetectionTensor {
	t := NewDetectionTensor(anchors, classes)
	for a := range anchors {
		t.set(0, a, rng.Float32())
		t.set(1, a, rng.Float32())
		t.set(2, a, rng.Float32()*0.2)
		t.set(3, a, rng.Float32()*0.2)
		for c := range classes {
			t.set(4+c, a, rng.Float32()*maxActivation)
		}
	}
	return t
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
