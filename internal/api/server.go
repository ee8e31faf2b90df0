package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/scada-hub/internal/audit"
	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
	"github.com/nerrad567/scada-hub/internal/infrastructure/logging"
	"github.com/nerrad567/scada-hub/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TickReporter exposes simulation loop counters for /health.
type TickReporter interface {
	Stats() schedule.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry Registry

	// Persister is optional; without it mutations are not persisted.
	Persister SnapshotSaver

	// Hub is optional; if nil the server creates its own. Pass one in when
	// the simulation needs it as a broadcaster.
	Hub *Hub

	// Ticks is optional; /health reports tick counters when set.
	Ticks TickReporter

	// Audit is optional; when set, accepted commands are recorded and
	// GET /audit is served.
	Audit audit.Repository

	// MQTT and DB are optional; /metrics reports on them when set.
	MQTT ConnectionChecker
	DB   DBStatser

	Version string
}

// Server runs the control-plane and WebSocket listeners.
//
// The server is created with New(), started with Start() and stopped with
// Close().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  Registry
	persister SnapshotSaver
	hub       *Hub
	ticks     TickReporter
	version   string

	mqtt      ConnectionChecker
	db        DBStatser
	startTime time.Time

	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	auditDone chan struct{} // closed when the drain goroutine exits
	stopAudit context.CancelFunc

	apiServer *http.Server
	wsServer  *http.Server
	apiAddr   string
	wsAddr    string

	errc      chan error
	cancel    context.CancelFunc // stops the hub on Close()
	closeOnce sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("controller registry is required")
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/"
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	srv := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		persister: deps.Persister,
		hub:       hub,
		ticks:     deps.Ticks,
		version:   deps.Version,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		startTime: time.Now(),
		auditRepo: deps.Audit,
		errc:      make(chan error, 2),
	}
	if srv.auditRepo != nil {
		srv.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return srv, nil
}

// Handler returns the control-plane HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// WSHandler returns the WebSocket listener's HTTP handler.
func (s *Server) WSHandler() http.Handler {
	return s.buildWSRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds both listeners and serves them in background goroutines.
//
// Binding happens before Start returns, so a port already in use is
// reported here. Failures after that are delivered on Err().
func (s *Server) Start(ctx context.Context) error {
	apiLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listening for control plane: %w", err)
	}
	wsLn, err := net.Listen("tcp", net.JoinHostPort(s.wsCfg.Host, strconv.Itoa(s.wsCfg.Port)))
	if err != nil {
		apiLn.Close() //nolint:errcheck // Best effort cleanup on error path
		return fmt.Errorf("listening for websocket: %w", err)
	}

	// Internal context so Close() can stop the hub independently of ctx.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	// The audit writer outlives ctx so requests still in flight when the
	// caller cancels are recorded; Close() stops it.
	if s.auditRepo != nil {
		var auditCtx context.Context
		auditCtx, s.stopAudit = context.WithCancel(context.WithoutCancel(ctx))
		s.auditDone = make(chan struct{})
		go s.drainAuditLog(auditCtx)
	}

	timeouts := s.cfg.Timeouts
	s.apiServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
	}
	// No write timeout: upgraded connections manage their own deadlines.
	s.wsServer = &http.Server{
		Handler:           s.WSHandler(),
		ReadHeaderTimeout: timeouts.GetReadTimeout(),
	}

	s.apiAddr = apiLn.Addr().String()
	s.wsAddr = wsLn.Addr().String()

	go s.serve("control plane", s.apiServer, apiLn)
	go s.serve("websocket", s.wsServer, wsLn)

	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	s.logger.Info("listener started", "listener", name, "address", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("listener failed", "listener", name, "error", err)
		select {
		case s.errc <- fmt.Errorf("%s listener: %w", name, err):
		default:
		}
	}
}

// Err delivers listener failures that happen after Start.
func (s *Server) Err() <-chan error {
	return s.errc
}

// APIAddr returns the bound control-plane address, or "" before Start.
func (s *Server) APIAddr() string {
	return s.apiAddr
}

// WSAddr returns the bound WebSocket address, or "" before Start.
func (s *Server) WSAddr() string {
	return s.wsAddr
}

// Close gracefully shuts down both listeners, disconnects WebSocket
// clients and flushes queued audit entries. In-flight control-plane requests
// get up to 10 seconds to finish.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		var errs []error
		for _, srv := range []*http.Server{s.apiServer, s.wsServer} {
			if srv == nil {
				continue
			}
			if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}

		// Handlers have returned; stop the hub and the audit writer.
		if s.cancel != nil {
			s.cancel()
		}
		if s.stopAudit != nil {
			s.stopAudit()
		}
		if s.auditDone != nil {
			<-s.auditDone
		}

		if joined := errors.Join(errs...); joined != nil {
			err = fmt.Errorf("shutting down API server: %w", joined)
		}
	})
	return err
}
