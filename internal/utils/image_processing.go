package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/meterread/internal/mempool"
	"github.com/MeKo-Tech/meterread/internal/onnx"
	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// InputOptions describes the square model input.
type InputOptions struct {
	Size       int    // Side S of the square input
	Layout     string // onnx.LayoutNCHW or onnx.LayoutNHWC
	CenterCrop bool   // Crop to the central square before resizing
}

// ResizeSquare fits img to a size x size square, optionally cropping the
// central square first so the aspect ratio is kept.
func ResizeSquare(img image.Image, size int, centerCrop bool) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if size <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid size %d", size)}
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("empty image")}
	}
	if centerCrop && b.Dx() != b.Dy() {
		side := min(b.Dx(), b.Dy())
		img = imaging.CropCenter(img, side, side)
	}
	return imaging.Resize(img, size, size, imaging.Linear), nil
}

// PrepareInput resizes img and normalizes it to [0,1] floats in the given
// layout. The buffer comes from mempool; release it with mempool.PutFloat32.
func PrepareInput(img image.Image, opt InputOptions) ([]float32, error) {
	layout := opt.Layout
	if layout == "" {
		layout = onnx.LayoutNCHW
	}
	if err := onnx.ValidateLayout(layout); err != nil {
		return nil, &ImageProcessingError{Operation: "prepare", Err: err}
	}
	sq, err := ResizeSquare(img, opt.Size, opt.CenterCrop)
	if err != nil {
		return nil, err
	}
	buf := mempool.GetFloat32(3 * opt.Size * opt.Size)
	NormalizeInto(sq, layout, buf)
	return buf, nil
}

// NormalizeInto writes the RGB channels of img scaled to [0,1] into buf,
// planar for NCHW and interleaved for NHWC. buf must hold 3*w*h values.
// Alpha is ignored.
func NormalizeInto(img *image.NRGBA, layout string, buf []float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	const inv = 1.0 / 255.0

	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := range w {
			r := float32(row[x*4]) * inv
			g := float32(row[x*4+1]) * inv
			bl := float32(row[x*4+2]) * inv
			idx := y*w + x
			if layout == onnx.LayoutNHWC {
				buf[idx*3] = r
				buf[idx*3+1] = g
				buf[idx*3+2] = bl
				continue
			}
			buf[idx] = r
			buf[plane+idx] = g
			buf[2*plane+idx] = bl
		}
	}
}
