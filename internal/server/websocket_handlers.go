package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/meterread/internal/pipeline"
	"github.com/MeKo-Tech/meterread/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSubscription = 8
)

// WebSocket upgrader with reasonable defaults. Frames can be large, so the
// read buffer is sized for a compressed camera image.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is sent to stream clients.
type WebSocketMessage struct {
	Type    string      `json:"type"` // reading, frame, error
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WebSocketRequest is a text command sent by a stream client.
type WebSocketRequest struct {
	Type string `json:"type"` // latest, history
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedWriter serializes writers sharing one connection.
type lockedWriter struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (l *lockedWriter) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

// streamWebSocketHandler pushes every new reading to the client. Binary
// messages from the client are camera frames offered to the streaming
// controller.
func (s *Server) streamWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil || s.history == nil {
		s.writeErrorResponse(w, "Streaming pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.maxUploadMB * 1024 * 1024)
	out := &lockedWriter{conn: conn}

	readings, cancel := s.history.Subscribe(wsSubscription)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go s.pushReadings(conn, out, readings, done)

	if latest := s.stream.Latest(); latest != nil {
		s.sendWebSocketMessage(out, WebSocketMessage{Type: "reading", Payload: latest})
	}
	s.readWebSocketLoop(conn, out)
}

// pushReadings forwards subscribed readings and keeps the connection alive.
func (s *Server) pushReadings(conn *websocket.Conn, out WebSocketConnWriter, readings <-chan pipeline.Reading, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case rd, ok := <-readings:
			if !ok {
				return
			}
			s.sendWebSocketMessage(out, WebSocketMessage{Type: "reading", Payload: rd})
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) readWebSocketLoop(conn *websocket.Conn, out WebSocketConnWriter) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			s.handleWebSocketFrame(out, data)
		case websocket.TextMessage:
			s.handleWebSocketCommand(out, data)
		}
	}
}

// handleWebSocketFrame offers one binary camera frame to the controller.
func (s *Server) handleWebSocketFrame(out WebSocketConnWriter, data []byte) {
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		s.sendWebSocketError(out, "Invalid image format")
		return
	}
	outcome := s.stream.OnFrame(img)
	s.sendWebSocketMessage(out, WebSocketMessage{
		Type:    "frame",
		Payload: FrameResponse{Outcome: outcome.String()},
	})
}

func (s *Server) handleWebSocketCommand(out WebSocketConnWriter, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(out, "Failed to parse request: "+err.Error())
		return
	}
	switch req.Type {
	case "latest":
		s.sendWebSocketMessage(out, WebSocketMessage{Type: "reading", Payload: s.stream.Latest()})
	case "history":
		s.sendWebSocketMessage(out, WebSocketMessage{Type: "history", Payload: s.history.History()})
	default:
		s.sendWebSocketError(out, "Unsupported request type: "+req.Type)
	}
}

// sendWebSocketMessage sends a message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, message string) {
	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "error", Error: message})
}
