package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/meterread/internal/common"
	"github.com/MeKo-Tech/meterread/internal/models"
	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := common.GetMemoryStats()
	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Memory:  &mem,
	}
	if !s.startTime.IsZero() {
		response.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	if s.stream != nil {
		response.Inferring = s.stream.Busy()
	}
	if s.pipe != nil {
		response.Models = make(map[string]bool, len(pipeline.Modes))
		for _, m := range pipeline.Modes {
			response.Models[m.String()] = s.pipe.Available(m)
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// modelsHandler returns information about known models.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	modelsDir := ""
	if s.pipe != nil {
		modelsDir = s.pipe.Config().ModelsDir
	}

	infos := models.ListAvailableModels()
	list := make([]ModelInfo, len(infos))
	for i, info := range infos {
		path := models.ResolveModelPath(modelsDir, info.Type, info.Filename)
		list[i] = ModelInfo{
			Name:        info.Name,
			Path:        path,
			Type:        info.Type,
			Description: info.Description,
			InputSize:   info.InputSize,
			AnchorCount: info.AnchorCount,
			Available:   models.ValidateModelExists(path) == nil,
		}
	}

	response := ModelsResponse{Models: list, Count: len(list)}
	if s.pipe != nil {
		response.Pipeline = s.pipe.Info()
	}
	writeJSON(w, http.StatusOK, response)
}

// latestHandler returns the latest streaming reading, or 204 before the first one.
func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.stream == nil {
		s.writeErrorResponse(w, "Streaming pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	latest := s.stream.Latest()
	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, LatestResponse{
		Reading:   latest,
		Overlay:   s.stream.OverlayDetections(),
		Inferring: s.stream.Busy(),
	})
}

// historyHandler returns recorded readings, oldest first. An optional
// limit keeps only the newest entries.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeErrorResponse(w, "Reading history not initialized", http.StatusServiceUnavailable)
		return
	}

	readings := s.history.History()
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeErrorResponse(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if limit < len(readings) {
			readings = readings[len(readings)-limit:]
		}
	}
	if readings == nil {
		readings = []pipeline.Reading{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Readings: readings, Count: len(readings)})
}

// confirmHandler builds a meter reading from the candidate the user picked.
func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Value == "" && req.Label != "" && s.still != nil {
		for _, c := range s.still.LastCandidates() {
			if c.Label == req.Label {
				req.Value = c.Value
				break
			}
		}
	}

	opts := s.readingOpts
	if req.Type != "" {
		t, err := reading.ParseType(req.Type)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Type = t
	}
	if req.Unit != "" {
		opts.Unit = req.Unit
	}
	if req.Decimals != nil {
		opts.Decimals = *req.Decimals
	}
	opts.Confidence = req.Confidence
	opts.ImageURI = req.ImageURI

	mr, err := reading.New(req.Value, opts)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Cannot build reading: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}
