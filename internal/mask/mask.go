// Package mask blanks a still photo except for the regions the indicator
// model located, so OCR only sees the meter's display.
package mask

import (
	"image"
	"image/draw"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/utils"
)

// Padding grows each region before copying.
type Padding struct {
	X int // left and right
	Y int // top and bottom
}

// DefaultPadding is 30px horizontally and 10px vertically.
var DefaultPadding = Padding{X: 30, Y: 10}

// Rects returns the padded pixel rectangles of dets in an image with the
// given bounds, clipped to it. Empty rectangles are dropped.
func Rects(bounds image.Rectangle, dets []detector.Detection, pad Padding) []image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]image.Rectangle, 0, len(dets))
	for _, d := range dets {
		r := d.Rect(w, h)
		if r.Empty() {
			continue
		}
		r = utils.PadRect(r.Add(bounds.Min), pad.X, pad.Y, bounds)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// Apply returns an RGBA image of src's size, zero everywhere except inside
// the padded rectangles of dets where it holds the source pixels. src is
// not modified. With no detections the result is fully transparent black.
// Pixels of an *image.RGBA source are copied byte for byte; other color
// models are converted to premultiplied RGBA.
func Apply(src image.Image, dets []detector.Detection, pad Padding) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for _, r := range Rects(b, dets, pad) {
		target := r.Sub(b.Min)
		draw.Draw(dst, target, src, r.Min, draw.Src)
	}
	return dst
}
