package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes configures and returns the HTTP handler with all application routes.
// It sets up handlers for the health check, the WebSocket endpoint, presence
// lookups, and Prometheus metrics.
func (s *Server) SetupRoutes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/", s.HealthHandler)
	r.Any("/ws", s.WebSocketHandler)
	r.GET("/user-status/:id", s.UserStatusHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	log := s.log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
