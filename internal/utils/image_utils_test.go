package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.tiff", false},
		{"f.gif", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, IsSupportedImage(c.path), c.path)
	}
}

func writeTempPNG(t *testing.T, dir string, w, h int, col color.Color) string {
	t.Helper()
	path := filepath.Join(dir, "test.png")
	require.NoError(t, WriteImageAtomic(path, solid(w, h, col)))
	return path
}

func TestLoadImageAndMetadata(t *testing.T) {
	p := writeTempPNG(t, t.TempDir(), 10, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	img, meta, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 20, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	assert.Error(t, err)
	_, _, err = LoadImage("photo.gif")
	assert.ErrorContains(t, err, "unsupported format")
	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 2))))
	img, format, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())
}

func TestWriteImageAtomic_NoLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "mask.png")
	require.NoError(t, WriteImageAtomic(path, solid(4, 4, color.Black)))
	// overwrite in place
	require.NoError(t, WriteImageAtomic(path, solid(6, 6, color.White)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mask.png", entries[0].Name())

	img, _, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
}

func TestBoxToRect(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	assert.Equal(t, image.Rect(10, 5, 20, 15), NewBox(20.2, 14.6, 9.8, 5.4).ToRect(bounds))
	assert.Equal(t, image.Rect(0, 0, 100, 50), NewBox(-5, -5, 500, 500).ToRect(bounds))

	b := NewBox(1, 2, 4, 8)
	assert.InDelta(t, 3.0, b.Width(), 1e-9)
	assert.InDelta(t, 6.0, b.Height(), 1e-9)
}

func TestPadRect(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	assert.Equal(t, image.Rect(20, 30, 110, 60), PadRect(image.Rect(50, 40, 80, 50), 30, 10, bounds))
	assert.Equal(t, image.Rect(0, 0, 40, 25), PadRect(image.Rect(5, 5, 10, 15), 30, 10, bounds))
}

func TestCropImageRect(t *testing.T) {
	img := solid(20, 20, color.White)
	assert.Equal(t, 5, CropImageRect(img, image.Rect(0, 0, 5, 5)).Bounds().Dx())
	assert.True(t, CropImageRect(img, image.Rect(30, 30, 40, 40)).Bounds().Empty())
}

func TestDrawRect(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
	red := color.RGBA{255, 0, 0, 255}
	DrawRect(dst, image.Rect(2, 2, 8, 8), red, 1)
	assert.Equal(t, red, dst.RGBAAt(2, 2))
	assert.Equal(t, red, dst.RGBAAt(7, 7))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(5, 5))

	// out of bounds is a no-op
	DrawRect(dst, image.Rect(20, 20, 30, 30), red, 2)
}
