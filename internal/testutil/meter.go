package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PhotoConfig describes a synthetic meter photo: a light housing with a dark
// display window in the middle showing Digits.
type PhotoConfig struct {
	Digits     string
	Width      int
	Height     int
	Housing    color.Color
	Display    color.Color
	Foreground color.Color
	// Rotation tilts the whole photo, in degrees counter-clockwise.
	Rotation float64
	// Scale enlarges the glyphs of the built-in 7x13 face.
	Scale int
}

// DefaultPhotoConfig returns a 320x240 photo of an electricity meter display.
func DefaultPhotoConfig() PhotoConfig {
	return PhotoConfig{
		Digits:     "0012475",
		Width:      320,
		Height:     240,
		Housing:    color.RGBA{R: 210, G: 210, B: 200, A: 255},
		Display:    color.RGBA{R: 20, G: 20, B: 20, A: 255},
		Foreground: color.White,
		Scale:      3,
	}
}

// DisplayRect returns the display window of a photo of the given size. It
// matches the region IndicatorTensor reports.
func DisplayRect(width, height int) image.Rectangle {
	w, h := width/2, height/4
	x0, y0 := (width-w)/2, (height-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

// MeterPhoto renders a synthetic meter photo.
func MeterPhoto(cfg PhotoConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Housing}, image.Point{}, draw.Src)

	display := DisplayRect(cfg.Width, cfg.Height)
	draw.Draw(img, display, &image.Uniform{cfg.Display}, image.Point{}, draw.Src)

	if cfg.Digits != "" {
		face := basicfont.Face7x13
		textW := font.MeasureString(face, cfg.Digits).Ceil()
		textH := face.Metrics().Height.Ceil()
		text := image.NewRGBA(image.Rect(0, 0, textW, textH))
		d := &font.Drawer{
			Dst:  text,
			Src:  &image.Uniform{cfg.Foreground},
			Face: face,
			Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(cfg.Digits)

		scale := max(cfg.Scale, 1)
		glyphs := imaging.Resize(text, textW*scale, textH*scale, imaging.NearestNeighbor)
		at := image.Pt(
			display.Min.X+(display.Dx()-glyphs.Bounds().Dx())/2,
			display.Min.Y+(display.Dy()-glyphs.Bounds().Dy())/2,
		)
		draw.Draw(img, glyphs.Bounds().Add(at), glyphs, image.Point{}, draw.Over)
	}

	if cfg.Rotation != 0 {
		rotated := imaging.Rotate(img, cfg.Rotation, cfg.Housing)
		out := image.NewRGBA(rotated.Bounds())
		draw.Draw(out, out.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
		return out
	}
	return img
}

// Gradient returns a w x h image whose pixels differ from each other.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 180, A: 255})
		}
	}
	return img
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // test data paths
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SavePNG is WritePNG for tests.
func SavePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, WritePNG(path, img))
}
