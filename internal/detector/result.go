package detector

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/meterread/internal/utils"
)

// DetectionResultJSON is a serializable view of detections scaled to an image.
type DetectionResultJSON struct {
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Digits     string          `json:"digits,omitempty"`
	Detections []DetectionJSON `json:"detections"`
}

type DetectionJSON struct {
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence"`
	Box        BoxJSON `json:"box"`
}

type BoxJSON struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ToJSONResult scales detections to width x height pixels.
func ToJSONResult(dets []Detection, digits string, width, height int) DetectionResultJSON {
	out := DetectionResultJSON{Width: width, Height: height, Digits: digits}
	out.Detections = make([]DetectionJSON, 0, len(dets))
	for _, d := range dets {
		r := d.Rect(width, height)
		out.Detections = append(out.Detections, DetectionJSON{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        BoxJSON{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
		})
	}
	return out
}

// DetectionsToJSON renders detections as indented JSON.
func DetectionsToJSON(dets []Detection, digits string, width, height int) ([]byte, error) {
	return json.MarshalIndent(ToJSONResult(dets, digits, width, height), "", "  ")
}

// DetectionsFromJSON parses the output of DetectionsToJSON.
func DetectionsFromJSON(data []byte) (DetectionResultJSON, error) {
	var res DetectionResultJSON
	err := json.Unmarshal(data, &res)
	return res, err
}

// ValidateDetections checks that every detection is a non-empty box inside the unit square.
func ValidateDetections(dets []Detection) error {
	for i, d := range dets {
		if d.Width <= 0 || d.Height <= 0 {
			return fmt.Errorf("detection %d has non-positive size", i)
		}
		x1, y1, x2, y2 := d.Bounds()
		if x1 < 0 || y1 < 0 || x2 > 1 || y2 > 1 {
			return fmt.Errorf("detection %d out of the unit square", i)
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d confidence %v out of range", i, d.Confidence)
		}
		if d.ClassID < 0 {
			return fmt.Errorf("detection %d has negative class id", i)
		}
	}
	return nil
}

// VisualizeOptions controls how detections are drawn.
type VisualizeOptions struct {
	Color          color.Color
	IndicatorColor color.Color
	Thickness      int
}

// VisualizeDetections draws detection boxes onto a copy of img.
func VisualizeDetections(img image.Image, dets []Detection, opt VisualizeOptions) *image.RGBA {
	if opt.Color == nil {
		opt.Color = color.RGBA{255, 0, 0, 255}
	}
	if opt.IndicatorColor == nil {
		opt.IndicatorColor = color.RGBA{0, 128, 255, 255}
	}
	if opt.Thickness <= 0 {
		opt.Thickness = 2
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, d := range dets {
		col := opt.Color
		if !d.IsDigit() {
			col = opt.IndicatorColor
		}
		utils.DrawRect(dst, d.Rect(b.Dx(), b.Dy()), col, opt.Thickness)
	}
	return dst
}
