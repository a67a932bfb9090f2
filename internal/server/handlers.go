package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/protocol"
	"github.com/Tyrowin/presencehub/internal/store"
)

const mirrorLookupTimeout = 2 * time.Second

// Sources reported by the user status endpoint.
const (
	sourceMemory = "memory"
	sourceMirror = "mirror"
)

// UserStatusResponse is the body of GET /user-status/:id.
type UserStatusResponse struct {
	UserID      string              `json:"userId"`
	IsOnline    bool                `json:"isOnline"`
	Connections int                 `json:"connections"`
	LastSeen    *protocol.Timestamp `json:"lastSeen,omitempty"`
	Source      string              `json:"source"`
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance and registers it with the hub,
// which starts the client's read/write pumps.
func (s *Server) WebSocketHandler(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.String(http.StatusMethodNotAllowed, "Method not allowed. WebSocket endpoint only accepts GET requests.")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("WebSocket upgrade failed", zap.String("addr", c.Request.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, c.Request.RemoteAddr)
	if !s.hub.Attach(client) {
		s.log.Info("hub is shut down; refusing connection", zap.String("addr", c.Request.RemoteAddr))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func (s *Server) HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "Presence hub is running!")
}

// UserStatusHandler reports the presence of one identity. Live state wins;
// the mirror answers for identities this instance has never seen.
func (s *Server) UserStatusHandler(c *gin.Context) {
	userID := c.Param("id")

	status, found, err := s.hub.PresenceOf(userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if found {
		resp := UserStatusResponse{
			UserID:      status.UserID,
			IsOnline:    status.Online,
			Connections: status.Connections,
			Source:      sourceMemory,
		}
		if !status.LastSeen.IsZero() {
			ts := protocol.NewTimestamp(status.LastSeen)
			resp.LastSeen = &ts
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), mirrorLookupTimeout)
	defer cancel()

	rec, err := s.mirror.Load(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
	case err != nil:
		s.log.Warn("presence mirror lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store unavailable"})
	default:
		resp := UserStatusResponse{UserID: rec.UserID, IsOnline: rec.Online, Source: sourceMirror}
		if !rec.LastSeen.IsZero() {
			ts := protocol.NewTimestamp(rec.LastSeen)
			resp.LastSeen = &ts
		}
		c.JSON(http.StatusOK, resp)
	}
}
