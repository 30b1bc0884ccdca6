package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionChecker reports broker connectivity (satisfied by *mqtt.Client).
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics (satisfied by *database.DB).
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// Hub is the subscriber fan-out. When nil the server creates and runs
	// its own; when set the caller owns its lifecycle.
	Hub *Hub

	// Optional collaborators.
	History        device.StateHistoryRepository
	MQTT           ConnectionChecker
	DB             DBStatser
	UpstreamStatus func() string
	Prometheus     http.Handler

	Version string
}

// Server is the HTTP API and WebSocket server.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	registry       *device.Registry
	hub            *Hub
	ownsHub        bool
	history        device.StateHistoryRepository
	mqtt           ConnectionChecker
	db             DBStatser
	upstreamStatus func() string
	prometheus     http.Handler
	version        string
	startTime      time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry) plus optional ones
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		registry:       deps.Registry,
		hub:            deps.Hub,
		history:        deps.History,
		mqtt:           deps.MQTT,
		db:             deps.DB,
		upstreamStatus: deps.UpstreamStatus,
		prometheus:     deps.Prometheus,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownsHub = true
	}
	return s, nil
}

// Hub returns the subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the server-owned hub
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownsHub {
		go s.hub.Run(srvCtx)
	}
	if !s.authEnabled() {
		s.logger.Warn("no JWT secret configured, subscriber authentication disabled")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
