package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/MeKo-Tech/meterread/internal/detector"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/utils"
)

const formatOverlay = "overlay"

// uploadError carries the status code for a rejected upload.
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// readImageHandler runs the still-image pipeline on an uploaded photo.
func (s *Server) readImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.still == nil {
		s.writeErrorResponse(w, "Still-image pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	img, filename, err := s.readUpload(w, r, "image")
	if err != nil {
		stillRequestsTotal.WithLabelValues("invalid").Inc()
		s.writeUploadError(w, err)
		return
	}

	ctx := r.Context()
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}

	res, err := s.still.Process(ctx, img, filename)
	if err != nil {
		stillRequestsTotal.WithLabelValues("error").Inc()
		slog.Warn("Still-image processing failed", "file", filename, "error", err)
		writeJSON(w, stillErrorStatus(err), ReadImageResponse{
			Success: false,
			Result:  res,
			Error:   userMessage(err),
		})
		return
	}
	stillRequestsTotal.WithLabelValues("success").Inc()
	for _, c := range res.Candidates {
		stillCandidatesTotal.WithLabelValues(c.Label).Inc()
	}

	if requestFormat(r) == formatOverlay {
		s.writeOverlay(w, img, slices.Concat(res.Detections, res.Indicators))
		return
	}

	response := ReadImageResponse{Success: true, Result: res}
	if label := formValue(r, "candidate"); label != "" {
		mr, err := s.readingFromCandidate(res, label)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		response.Reading = &mr
	}
	writeJSON(w, http.StatusOK, response)
}

// readFrameHandler offers one camera frame to the streaming controller.
// The outcome is reported with 200 in every case: streaming never fails a caller.
func (s *Server) readFrameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.stream == nil {
		s.writeErrorResponse(w, "Streaming pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	img, _, err := s.readUpload(w, r, "frame")
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	outcome := s.stream.OnFrame(img)
	if requestFormat(r) == formatOverlay {
		s.writeOverlay(w, img, s.stream.OverlayDetections())
		return
	}
	writeJSON(w, http.StatusOK, FrameResponse{
		Outcome: outcome.String(),
		Latest:  s.stream.Latest(),
	})
}

// readUpload decodes an image sent either as a multipart field or as the raw body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) (image.Image, string, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var (
		data     []byte
		filename string
		err      error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, "", &uploadError{http.StatusBadRequest, "Failed to parse form data"}
		}
		file, header, err := r.FormFile(field)
		if err != nil {
			return nil, "", &uploadError{http.StatusBadRequest, fmt.Sprintf("No %s file provided", field)}
		}
		defer func() { _ = file.Close() }()
		if header.Size > limit {
			return nil, "", &uploadError{http.StatusRequestEntityTooLarge, "File too large"}
		}
		filename = filepath.Base(header.Filename)
		data, err = io.ReadAll(file)
		if err != nil {
			return nil, "", &uploadError{http.StatusInternalServerError, "Failed to read image data"}
		}
	} else {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", &uploadError{http.StatusRequestEntityTooLarge, "File too large"}
			}
			return nil, "", &uploadError{http.StatusBadRequest, "Failed to read request body"}
		}
		filename = r.URL.Query().Get("filename")
	}
	if len(data) == 0 {
		return nil, "", &uploadError{http.StatusBadRequest, "Empty image"}
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, "", &uploadError{http.StatusBadRequest, "Invalid image format"}
	}
	return img, filename, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		s.writeErrorResponse(w, ue.message, ue.status)
		return
	}
	s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) writeOverlay(w http.ResponseWriter, img image.Image, dets []detector.Detection) {
	out := detector.VisualizeDetections(img, dets, detector.VisualizeOptions{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		s.writeErrorResponse(w, "Failed to encode overlay", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// readingFromCandidate builds a meter reading from the candidate with the given label.
func (s *Server) readingFromCandidate(res *pipeline.StillResult, label string) (reading.MeterReading, error) {
	for _, c := range res.Candidates {
		if c.Label != label {
			continue
		}
		opts := s.readingOpts
		opts.Confidence = res.Confidence
		opts.ImageURI = res.MaskPath
		return reading.New(c.Value, opts)
	}
	return reading.MeterReading{}, fmt.Errorf("no candidate labeled %q", label)
}

// stillErrorStatus maps still-image failures onto HTTP statuses.
func stillErrorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

// userMessage hides internal causes behind the retryable message.
func userMessage(err error) string {
	if errors.Is(err, pipeline.ErrProcessImage) {
		return pipeline.ErrProcessImage.Error()
	}
	return err.Error()
}

func requestFormat(r *http.Request) string {
	return formValue(r, "format")
}

func formValue(r *http.Request, key string) string {
	if r.MultipartForm != nil {
		if v := r.MultipartForm.Value[key]; len(v) > 0 {
			return v[0]
		}
	}
	return r.URL.Query().Get(key)
}
