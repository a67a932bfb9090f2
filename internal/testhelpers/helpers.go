// Package testhelpers provides common utilities and helper functions for testing the presence hub.
//
// This package contains reusable test utilities shared by the package tests. It provides
// functions for dialing WebSocket endpoints, exchanging protocol frames, making HTTP requests,
// and asserting response properties to reduce code duplication in test files.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the Origin header sent by ConnectWebSocket.
const DefaultOrigin = "http://localhost:8080"

const readTimeout = 2 * time.Second

// Frame is a decoded server frame. Data is left raw for the caller to decode.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocketURL turns an httptest server URL into the WebSocket endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, DefaultOrigin)
}

// ConnectWebSocketWithOrigin dials url sending origin, or no Origin header
// when origin is empty.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one {event, data} frame. A nil data omits the field.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	frame := map[string]interface{}{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame), "send %s", event)
}

// ReceiveEvent reads the next frame, failing the test after a short timeout.
func ReceiveEvent(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// ExpectEvent reads frames until one named event arrives and decodes its data
// into out. Frames with other names are skipped.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string, out interface{}) {
	t.Helper()
	for {
		f := ReceiveEvent(t, conn)
		if f.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(f.Data, out), "decode %s", event)
		}
		return
	}
}

// ExpectNoEvent fails the test if a frame arrives within timeout.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
