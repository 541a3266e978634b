package detector

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionRect(t *testing.T) {
	d := box(0.5, 0.5, 0.2, 0.4, 0.9, 1)
	assert.Equal(t, image.Rect(40, 30, 60, 70), d.Rect(100, 100))

	// clamped to the image
	edge := box(0.05, 0.5, 0.2, 0.2, 0.9, 1)
	assert.Equal(t, 0, edge.Rect(100, 100).Min.X)
}

func TestDetectionsJSONRoundTrip(t *testing.T) {
	dets := []Detection{box(0.5, 0.5, 0.2, 0.4, 0.9, 1), box(0.2, 0.5, 0.1, 0.2, 0.8, 11)}
	data, err := DetectionsToJSON(dets, "1", 200, 100)
	require.NoError(t, err)

	res, err := DetectionsFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Width)
	assert.Equal(t, "1", res.Digits)
	require.Len(t, res.Detections, 2)
	assert.Equal(t, BoxJSON{X: 80, Y: 30, W: 40, H: 40}, res.Detections[0].Box)
	assert.Equal(t, 11, res.Detections[1].ClassID)
}

func TestValidateDetections(t *testing.T) {
	require.NoError(t, ValidateDetections([]Detection{box(0.5, 0.5, 0.2, 0.2, 0.9, 1)}))
	assert.Error(t, ValidateDetections([]Detection{box(0.5, 0.5, 0, 0.2, 0.9, 1)}))
	assert.Error(t, ValidateDetections([]Detection{box(0.95, 0.5, 0.2, 0.2, 0.9, 1)}))
	assert.Error(t, ValidateDetections([]Detection{box(0.5, 0.5, 0.2, 0.2, 1.5, 1)}))
	assert.Error(t, ValidateDetections([]Detection{box(0.5, 0.5, 0.2, 0.2, 0.5, -1)}))
}

func TestVisualizeDetections(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	out := VisualizeDetections(src, []Detection{
		box(0.5, 0.5, 0.2, 0.2, 0.9, 1),
		box(0.2, 0.2, 0.2, 0.2, 0.9, 10),
	}, VisualizeOptions{Thickness: 1})

	assert.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(40, 40))
	assert.Equal(t, color.RGBA{0, 128, 255, 255}, out.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{}, out.RGBAAt(50, 50))
	assert.Equal(t, color.RGBA{}, src.RGBAAt(40, 40), "source is untouched")
}
