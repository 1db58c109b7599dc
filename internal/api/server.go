package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/sciler-device/internal/device"
	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
	"github.com/nerrad567/sciler-device/internal/infrastructure/logging"
	"github.com/nerrad567/sciler-device/internal/journal"
	"github.com/nerrad567/sciler-device/internal/reader"
	"github.com/nerrad567/sciler-device/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the part of the broker session the API exposes.
type Session interface {
	Snapshot() session.Info
	HandleInstruction(ctx context.Context, payload json.RawMessage) error
}

// StatusSource returns the device's current component snapshot.
type StatusSource interface {
	Status() device.Status
}

// JournalReader lists journalled envelopes.
type JournalReader interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

// ReaderStats reports on the supervised reader command.
type ReaderStats interface {
	Stats() reader.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Device  *config.Config
	Session Session
	Status  StatusSource
	Journal JournalReader // optional
	Reader  ReaderStats   // optional
	Hub     *Hub          // optional; created when nil
	Version string
}

// Server is the device's local HTTP API.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	device  *config.Config
	session Session
	status  StatusSource
	journal JournalReader
	reader  ReaderStats
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
}

// New creates an API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device config is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		device:  deps.Device,
		session: deps.Session,
		status:  deps.Status,
		journal: deps.Journal,
		reader:  deps.Reader,
		version: deps.Version,
		hub:     hub,
	}, nil
}

// Hub returns the WebSocket hub. It doubles as a session.Recorder.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background until Close.
// Binding errors (port in use) are returned directly.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
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
