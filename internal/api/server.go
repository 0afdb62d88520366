package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/history"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/config"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/logging"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/service"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// NotificationStore lists and dismisses stored notifications.
type NotificationStore interface {
	List(ctx context.Context) ([]notify.Notification, error)
	Dismiss(ctx context.Context, id string) error
}

// HealthChecker is implemented by every component /health reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Service *service.Service

	// Optional.
	Runs          history.Repository
	Notifications NotificationStore
	Metrics       http.Handler
	MetricsPath   string
	Checks        map[string]HealthChecker

	// WWWDir is served read-only under PublicPath.
	WWWDir     string
	PublicPath string

	// MaxImportSize bounds upload bodies on the import routes.
	MaxImportSize int64

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg           config.APIConfig
	logger        *logging.Logger
	service       *service.Service
	runs          history.Repository
	notifications NotificationStore
	metrics       http.Handler
	metricsPath   string
	checks        map[string]HealthChecker
	wwwDir        string
	publicPath    string
	maxBody       int64
	version       string
	startTime     time.Time
	server        *http.Server
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("snapshot service is required")
	}

	maxBody := int64(maxRequestBodySize)
	if deps.MaxImportSize+multipartOverhead > maxBody {
		maxBody = deps.MaxImportSize + multipartOverhead
	}
	publicPath := deps.PublicPath
	if publicPath == "" {
		publicPath = "/local"
	}
	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		cfg:           deps.Config,
		logger:        deps.Logger,
		service:       deps.Service,
		runs:          deps.Runs,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		metricsPath:   metricsPath,
		checks:        deps.Checks,
		wwwDir:        deps.WWWDir,
		publicPath:    publicPath,
		maxBody:       maxBody,
		version:       deps.Version,
		startTime:     time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in the background. Stop
// it with Close.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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
