// Package server defines the internal messages passed into the hub loop and
// utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/presencehub/internal/protocol"
)

// inboundEvent carries one decoded frame, or the reason it could not be
// decoded, from a read pump into the hub loop.
type inboundEvent struct {
	client *Client
	msg    protocol.Inbound
	err    error
}

// authResult reports a finished validator call back to the hub loop.
type authResult struct {
	client *Client
	seq    uint64
	userID string
	err    error
}

// roomPublish is an externally produced event for one room.
type roomPublish struct {
	room    string
	event   string
	payload json.RawMessage
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
