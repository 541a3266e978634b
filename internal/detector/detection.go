package detector

import (
	"image"

	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/chewxy/math32"
)

// Class id ranges shared by the digit and indicator models.
const (
	DigitClassCount     = 10
	IndicatorClassCount = 2
	IndicatorClassBase  = 10
)

// Detection is one candidate box in the normalized [0,1] frame of the model input square.
type Detection struct {
	CenterX    float32 `json:"center_x"`
	CenterY    float32 `json:"center_y"`
	Width      float32 `json:"width"`
	Height     float32 `json:"height"`
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
}

// Bounds returns the axis-aligned extent (minX, minY, maxX, maxY).
func (d Detection) Bounds() (float32, float32, float32, float32) {
	hw, hh := d.Width/2, d.Height/2
	return d.CenterX - hw, d.CenterY - hh, d.CenterX + hw, d.CenterY + hh
}

// Area returns the normalized box area.
func (d Detection) Area() float32 {
	return d.Width * d.Height
}

// IsDigit reports whether the class id falls in the digit label range.
func (d Detection) IsDigit() bool {
	return d.ClassID >= 0 && d.ClassID < DigitClassCount
}

// Box scales the detection into pixel space of a width x height image.
func (d Detection) Box(width, height int) utils.Box {
	x1, y1, x2, y2 := d.Bounds()
	w, h := float64(width), float64(height)
	return utils.NewBox(float64(x1)*w, float64(y1)*h, float64(x2)*w, float64(y2)*h)
}

// Rect converts the detection to a pixel rectangle clamped to a width x height image.
func (d Detection) Rect(width, height int) image.Rectangle {
	return d.Box(width, height).ToRect(image.Rect(0, 0, width, height))
}

// IoU computes intersection over union of two detections. A zero union yields 0.
func IoU(a, b Detection) float32 {
	ax1, ay1, ax2, ay2 := a.Bounds()
	bx1, by1, bx2, by2 := b.Bounds()

	iw := math32.Min(ax2, bx2) - math32.Max(ax1, bx1)
	ih := math32.Min(ay2, by2) - math32.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// TopDetections returns at most limit detections with confidence >= minConf,
// highest confidence first. It is used for live overlay boxes.
func TopDetections(dets []Detection, minConf float32, limit int) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	sortByConfidenceDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
