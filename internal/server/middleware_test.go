package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		expectedCORS   string
		shouldCallNext bool
	}{
		{name: "GET request with CORS headers", corsOrigin: "*", method: http.MethodGet, expectedCORS: "*", shouldCallNext: true},
		{name: "POST request with specific origin", corsOrigin: "https://example.com", method: http.MethodPost, expectedCORS: "https://example.com", shouldCallNext: true},
		{name: "OPTIONS request (preflight)", corsOrigin: "*", method: http.MethodOptions, expectedCORS: "*"},
		{name: "empty CORS origin falls back to any", corsOrigin: "", method: http.MethodGet, expectedCORS: "*", shouldCallNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}
			called := false
			handler := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusTeapot)
			})

			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(tt.method, "/test", nil))

			assert.Equal(t, tt.expectedCORS, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			assert.Equal(t, tt.shouldCallNext, called)
			if tt.shouldCallNext {
				assert.Equal(t, http.StatusTeapot, w.Code)
			} else {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	(&Server{}).writeErrorResponse(w, "boom", http.StatusBadGateway)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "boom", body["error"])
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, remote: "1.2.3.4:5", expected: "10.0.0.1"},
		{name: "single forwarded", headers: map[string]string{"X-Forwarded-For": " 10.0.0.9 "}, remote: "1.2.3.4:5", expected: "10.0.0.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "192.168.1.7"}, remote: "1.2.3.4:5", expected: "192.168.1.7"},
		{name: "remote addr", remote: "1.2.3.4:5678", expected: "1.2.3.4"},
		{name: "remote without port", remote: "unix", expected: "unix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(r))
		})
	}
}
