package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AppRegistry/internal/api/http"
	"github.com/GriffinCanCode/AppRegistry/internal/api/middleware"
	"github.com/GriffinCanCode/AppRegistry/internal/api/ws"
	"github.com/GriffinCanCode/AppRegistry/internal/db"
	"github.com/GriffinCanCode/AppRegistry/internal/domain/artifact"
	"github.com/GriffinCanCode/AppRegistry/internal/domain/feed"
	"github.com/GriffinCanCode/AppRegistry/internal/domain/registry"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/config"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/tracing"
	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/paths"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	lock     *flock.Flock
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	conn     *db.DB
	repo     *db.Repository
	store    *artifact.Store
	feed     *feed.Feed
	registry *registry.Service
	router   *gin.Engine

	mu   sync.Mutex
	addr net.Addr
}

// New opens the data directory and wires every component. Nothing is
// served until Run. The data directory is locked until Close; a second
// open from any process fails with CONFLICT.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (s *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Initializing App Registry",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("addr", cfg.Addr()),
	)

	layout := paths.New(cfg.Storage.DataDir)
	lock, err := lockDataDir(layout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("registry", logger, 0)

	store, err := artifact.NewStore(layout, logger.Named("artifacts"))
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}
	store.SetLimits(artifact.Limits{
		MaxExtractBytes: cfg.Storage.MaxExtractMB << 20,
		MaxEntries:      cfg.Storage.MaxArchiveEntries,
	})

	conn, err := db.Open(ctx, layout.Database())
	if err != nil {
		tracer.Close()
		return nil, err
	}
	repo := db.NewRepository(conn.DB)
	logger.Info("Database ready", zap.String("path", conn.Path()))

	changes := feed.New(logger.Named("feed"), cfg.Feed.BacklogWarn)
	svc := registry.NewService(repo, store, changes, registry.Options{
		Logger:  logger.Named("registry"),
		Metrics: metrics,
		Tracer:  tracer,
	})

	s = &Server{
		config:   cfg,
		logger:   logger,
		lock:     lock,
		metrics:  metrics,
		tracer:   tracer,
		conn:     conn,
		repo:     repo,
		store:    store,
		feed:     changes,
		registry: svc,
	}
	s.router = s.buildRouter()
	return s, nil
}

// lockDataDir takes an exclusive, non-blocking lock on the data root.
func lockDataDir(layout paths.Layout) (*flock.Flock, error) {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return nil, apperrors.IO("create data directory", err)
	}
	lock := flock.New(layout.Lock())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, apperrors.IO("lock data directory", err)
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeConflict,
			"data directory %s is in use by another process", layout.Root)
	}
	return lock, nil
}

func (s *Server) buildRouter() *gin.Engine {
	cfg := s.config
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.Logger(s.logger.Named("http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins...)))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(s.registry, s.repo, apihttp.Options{
		Metrics:   s.metrics,
		Logger:    s.logger.Named("api"),
		MaxUpload: cfg.Server.MaxUploadMB << 20,
	})
	handlers.Register(router)

	wsHandler := ws.NewHandler(s.registry, s.metrics, s.logger.Named("ws"), nil)
	router.GET("/ws", wsHandler.HandleConnection)

	return router
}

// Prepare runs first-start seeding and, if configured, the startup sweep.
func (s *Server) Prepare(ctx context.Context) error {
	if s.config.Registry.SeedSources {
		result, err := registry.NewSeeder(s.repo, s.logger.Named("seeder")).Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed defaults: %w", err)
		}
		if result.Generated {
			s.logger.Info("Generated check string")
		}
	}

	if s.config.Registry.SweepOnStart {
		if _, err := s.registry.Sweep(ctx); err != nil {
			return fmt.Errorf("startup sweep failed: %w", err)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	// Live WebSocket streams end when the feed closes
	s.feed.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the registry service.
func (s *Server) Registry() *registry.Service {
	return s.registry
}

// Repository returns the database repository.
func (s *Server) Repository() *db.Repository {
	return s.repo
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Addr returns the bound listen address once Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close releases every resource held by the server.
func (s *Server) Close() error {
	s.logger.Info("Closing registry")

	s.feed.Close()
	s.tracer.Close()

	var errs []error
	if err := s.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statements: %w", err))
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock data directory: %w", err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
