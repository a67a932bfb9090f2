package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/metrics"
	"github.com/Tyrowin/presencehub/internal/presence"
	"github.com/Tyrowin/presencehub/internal/rooms"
	"github.com/Tyrowin/presencehub/internal/store"
	"github.com/Tyrowin/presencehub/internal/typing"
)

// Options supplies the collaborators that cannot be derived from Config.
// Every field is optional.
type Options struct {
	Validator auth.Validator
	// Mirror answers presence lookups for identities the hub does not know.
	Mirror store.Mirror
	// Sink receives presence transitions for mirroring.
	Sink     PresenceSink
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Now      func() time.Time
}

// Server bundles the hub with its HTTP and health surfaces.
type Server struct {
	cfg      Config
	hub      *Hub
	log      *zap.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	mirror   store.Mirror
	origins  *originPolicy
	upgrader websocket.Upgrader
	health   *health.Server
}

// NewServer builds a server from cfg. The hub is not running until Start.
func NewServer(cfg Config, opts Options) *Server {
	cfg = sanitizeConfig(cfg)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	mirror := opts.Mirror
	if mirror == nil {
		mirror = store.NopMirror{}
	}
	m := metrics.New(reg, metrics.DefaultNamespace)

	hub := NewHub(HubOptions{
		Presence:  presence.NewRegistry(opts.Now),
		Rooms:     rooms.NewTracker(cfg.Rooms),
		Typing:    typing.NewCoordinator(cfg.Typing.TTL),
		Validator: opts.Validator,
		Sink:      opts.Sink,
		Metrics:   m,
		Logger:    log,
		Now:       opts.Now,
		Client: ClientConfig{
			MaxMessageSize: cfg.MaxMessageSize,
			SendBufferSize: cfg.SendBufferSize,
			RateLimit:      cfg.RateLimit,
		},
		AuthTimeout:         cfg.Auth.Timeout,
		TypingSweepInterval: cfg.Typing.SweepInterval,
	})

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		log:      log,
		metrics:  m,
		registry: reg,
		mirror:   mirror,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log.Named("origin")),
		health:   health.NewServer(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.origins.checkOrigin,
	}
	s.setServing(false)
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the collectors shared with the ingress consumers.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Start runs the hub loop in its own goroutine and reports the service as
// serving.
func (s *Server) Start() {
	go s.hub.Run()
	s.setServing(true)
	s.log.Info("hub started and ready to manage WebSocket connections")
}

// Shutdown reports the service as not serving, then stops the hub and waits
// for its goroutines up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.health.Shutdown()
	return s.hub.Shutdown(timeout)
}
