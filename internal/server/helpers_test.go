package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/meterread/internal/ocr"
	"github.com/MeKo-Tech/meterread/internal/onnx/mock"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/testutil"
	"github.com/stretchr/testify/require"
)

type testModels struct {
	stream    *mock.Model
	digit     *mock.Model
	indicator *mock.Model
}

var (
	digitTensor     = testutil.DigitTensor
	indicatorTensor = testutil.IndicatorTensor
)

func newTestModels(streamDigits, stillDigits string) *testModels {
	return &testModels{
		stream:    mock.NewModel(digitTensor(256, streamDigits)),
		digit:     mock.NewModel(digitTensor(640, stillDigits)),
		indicator: mock.NewModel(indicatorTensor()),
	}
}

// newTestServer builds a server over mock models. A nil m leaves every
// model unavailable.
func newTestServer(t *testing.T, m *testModels, backend ocr.Backend) *Server {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Seed = 7
	cfg.Still.OutputDir = t.TempDir()

	byMode := map[pipeline.Mode]pipeline.Model{}
	if m != nil {
		byMode[pipeline.ModeStreaming] = m.stream
		byMode[pipeline.ModeStillImageDigit] = m.digit
		byMode[pipeline.ModeStillImageIndicator] = m.indicator
	}
	p, err := pipeline.NewPipeline(cfg, byMode)
	require.NoError(t, err)

	s, err := NewServer(Config{
		CORSOrigin:  "*",
		MaxUploadMB: 1,
		TimeoutSec:  5,
		Reading:     reading.Options{Type: reading.TypeElectricity, Decimals: 1},
	}, p, backend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func fixedOCR(text string) ocr.Backend {
	return ocr.BackendFunc(func(context.Context, image.Image, ocr.Options) (string, error) {
		return text, nil
	})
}

func createTestImage(w, h int) image.Image {
	return testutil.Gradient(w, h)
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createMultipartRequest creates a multipart form request carrying data in field.
func createMultipartRequest(t *testing.T, url, field, filename string, data []byte, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
