package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systmms/mediavault/internal/configcache"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/internal/pool"
	"github.com/systmms/mediavault/internal/storage"
	"github.com/systmms/mediavault/internal/topology"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Port is the port to listen on.
	Port int

	// MetricsPath is the path to serve metrics on.
	MetricsPath string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	SQL SQLConfig
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         5000,
		MetricsPath:  "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		SQL:          DefaultSQLConfig(),
	}
}

// PoolSource hands out role pools for pinging.
type PoolSource interface {
	Roles() []topology.Role
	Acquire(role topology.Role) (*pool.Pool, func(), error)
}

// StateSource reports the configuration cache state.
type StateSource interface {
	State() configcache.State
}

// StorageSource reports the installed storage handle.
type StorageSource interface {
	Current() *storage.Handle
}

// Dependencies are what readiness is judged on. Nil sources are skipped.
type Dependencies struct {
	Region  string
	Pools   PoolSource
	Config  StateSource
	Storage StorageSource
}

// Readiness is the /ready response body.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Region  string   `json:"region"`
	Config  string   `json:"config"`
	Bucket  string   `json:"bucket,omitempty"`
	Checks  []Result `json:"checks"`
	Message string   `json:"message,omitempty"`
}

// Server serves /health, /ready and metrics.
type Server struct {
	config ServerConfig
	deps   Dependencies
	logger *logging.Logger
	server *http.Server
	addr   string
}

// NewServer creates a new server.
func NewServer(config ServerConfig, deps Dependencies, logger *logging.Logger) *Server {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{config: config, deps: deps, logger: logger}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle(s.config.MetricsPath, promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Hello from %s region!", s.deps.Region)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if ready.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(ready); err != nil {
		s.logger.Warn("Failed to write readiness response: %v", err)
	}
}

// Check judges readiness: configuration loaded, every role pool
// answering, and a storage handle installed.
func (s *Server) Check(ctx context.Context) Readiness {
	ready := Readiness{Ready: true, Region: s.deps.Region, Checks: []Result{}}

	if s.deps.Config != nil {
		state := s.deps.Config.State()
		ready.Config = state.String()
		if state == configcache.StateUnloaded {
			ready.Ready = false
			ready.Message = "configuration not loaded"
		}
	}

	if s.deps.Pools != nil {
		for _, role := range s.deps.Pools.Roles() {
			result := s.checkRole(ctx, role)
			if !result.Healthy {
				ready.Ready = false
			}
			ready.Checks = append(ready.Checks, result)
		}
	}

	if s.deps.Storage != nil {
		if h := s.deps.Storage.Current(); h != nil {
			ready.Bucket = h.Bucket
		} else {
			ready.Ready = false
			ready.Checks = append(ready.Checks, Result{Name: storage.Role, Message: "no storage client installed"})
		}
	}
	return ready
}

func (s *Server) checkRole(ctx context.Context, role topology.Role) Result {
	p, release, err := s.deps.Pools.Acquire(role)
	if err != nil {
		return Result{Name: string(role), Message: err.Error()}
	}
	defer release()

	result := CheckSQL(ctx, string(role), p.DB(), s.config.SQL)
	result.Metadata["target"] = p.Target().String()
	return result
}

// Start listens and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	metrics.InitMetrics()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	s.addr = ln.Addr().String()

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	s.logger.Info("Serving health checks on %s", s.addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.addr
}
