package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn is a mock implementation of websocket.Conn for testing.
type mockWebSocketConn struct {
	sentMessages []sentMessage
	err          error
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func decodeMessage(t *testing.T, data []byte) WebSocketMessage {
	t.Helper()
	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_SendWebSocketMessages(t *testing.T) {
	s := &Server{}
	conn := &mockWebSocketConn{}

	s.sendWebSocketMessage(conn, WebSocketMessage{Type: "reading", Payload: map[string]string{"digits": "12"}})
	s.sendWebSocketError(conn, "bad things")

	require.Len(t, conn.sentMessages, 2)
	assert.Equal(t, websocket.TextMessage, conn.sentMessages[0].messageType)
	assert.Equal(t, "reading", decodeMessage(t, conn.sentMessages[0].data).Type)

	errMsg := decodeMessage(t, conn.sentMessages[1].data)
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, "bad things", errMsg.Error)

	assert.NotPanics(t, func() {
		s.sendWebSocketMessage(&mockWebSocketConn{err: errors.New("closed")}, WebSocketMessage{Type: "reading"})
	})
}

func TestServer_WebSocketCommands(t *testing.T) {
	s := newTestServer(t, newTestModels("77", "1"), nil)
	conn := &mockWebSocketConn{}

	s.handleWebSocketCommand(conn, []byte(`{"type":"history"}`))
	s.handleWebSocketCommand(conn, []byte(`{"type":"dance"}`))
	s.handleWebSocketCommand(conn, []byte(`not json`))
	s.handleWebSocketFrame(conn, []byte("not an image"))

	require.Len(t, conn.sentMessages, 4)
	assert.Equal(t, "history", decodeMessage(t, conn.sentMessages[0].data).Type)
	assert.Contains(t, decodeMessage(t, conn.sentMessages[1].data).Error, "Unsupported request type")
	assert.Contains(t, decodeMessage(t, conn.sentMessages[2].data).Error, "Failed to parse request")
	assert.Equal(t, "Invalid image format", decodeMessage(t, conn.sentMessages[3].data).Error)
}

func TestServer_WebSocketStream(t *testing.T) {
	s := newTestServer(t, newTestModels("2024", "1"), nil)
	ts := httptest.NewServer(newTestMux(s))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	readMessage := func() WebSocketMessage {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		return decodeMessage(t, data)
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngBytes(t, createTestImage(24, 24))))
	frame := readMessage()
	require.Equal(t, "frame", frame.Type)
	assert.Equal(t, "processed", frame.Payload.(map[string]interface{})["outcome"])

	require.True(t, s.poller.Poll())
	pushed := readMessage()
	require.Equal(t, "reading", pushed.Type)
	assert.Equal(t, "2024", pushed.Payload.(map[string]interface{})["digits"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"latest"}`)))
	latest := readMessage()
	assert.Equal(t, "reading", latest.Type)
}

func TestServer_WebSocketWithoutStream(t *testing.T) {
	w := httptest.NewRecorder()
	(&Server{}).streamWebSocketHandler(w, httptest.NewRequest(http.MethodGet, "/ws/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
