package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/config"
	handlers "github.com/serverkit/installer/internal/handlers/v1alpha1"
	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/provision"
	"github.com/serverkit/installer/internal/store"
	"github.com/serverkit/installer/pkg/metrics"
	"github.com/serverkit/installer/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	// workers get longer than the http server: a step in flight is cancelled
	// and needs time to record the failure.
	workerShutdownTimeout = 30 * time.Second
)

type Server struct {
	cfg      *config.Config
	listener net.Listener
	handler  *handlers.ServiceHandler
	jobs     *store.JobStore
	pool     *provision.Pool
	logs     *joblog.Manager
}

// New returns a new instance of the installer API server.
func New(
	cfg *config.Config,
	listener net.Listener,
	handler *handlers.ServiceHandler,
	jobs *store.JobStore,
	pool *provision.Pool,
	logs *joblog.Manager,
) *Server {
	return &Server{
		cfg:      cfg,
		listener: listener,
		handler:  handler,
		jobs:     jobs,
		pool:     pool,
		logs:     logs,
	}
}

// Router builds the http handler of the server.
func (s *Server) Router() (http.Handler, error) {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	if err := metricMiddleware.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{api.SessionHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger("/health", "/progress"),
		chiMiddleware.Recoverer,
	)

	s.handler.Routes(router)
	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	logger := zap.S().Named("api_server")
	logger.Info("Initializing API server")

	router, err := s.Router()
	if err != nil {
		return err
	}
	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go s.jobs.Run(ctx, s.cfg.Jobs.JanitorInterval)
	go s.cleanupLogs(ctx)

	go func() {
		<-ctx.Done()
		logger.Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		logger.Info("api server terminated")
	}()

	logger.Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(ctxTimeout); err != nil {
		logger.Warnw("installation workers did not stop in time", "running", s.pool.Running(), "error", err)
	}
	return nil
}

// cleanupLogs removes session log files past the retention period.
func (s *Server) cleanupLogs(ctx context.Context) {
	logger := zap.S().Named("log_janitor")
	clean := func() {
		n, err := s.logs.Cleanup(s.cfg.Logs.RetentionDays)
		if err != nil {
			logger.Warnw("failed to clean up logs", "error", err)
			return
		}
		if n > 0 {
			logger.Infow("removed expired log files", "count", n)
		}
	}

	clean()
	ticker := time.NewTicker(s.cfg.Logs.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			clean()
		case <-ctx.Done():
			return
		}
	}
}
