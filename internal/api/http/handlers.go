package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/domain/registry"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

const (
	serviceName    = "App Registry"
	serviceVersion = "1.0.0"

	// Icons above this size are rejected before decoding.
	maxIconBytes = 8 << 20
)

// SourceLister reads the configured application sources.
type SourceLister interface {
	ListSources(ctx context.Context) ([]*types.Source, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	registry  *registry.Service
	sources   SourceLister
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	maxUpload int64
	startTime time.Time
}

// Options configures optional handler dependencies.
type Options struct {
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	// MaxUpload caps the POST /apps body in bytes. Zero means unlimited.
	MaxUpload int64
}

// NewHandlers creates a new handler set.
func NewHandlers(svc *registry.Service, sources SourceLister, opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry:  svc,
		sources:   sources,
		metrics:   opts.Metrics,
		logger:    logger,
		maxUpload: opts.MaxUpload,
		startTime: time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	apps := r.Group("/apps")
	apps.GET("", h.ListApps)
	apps.POST("", h.CreateApp)
	apps.GET("/:id", h.GetApp)
	apps.GET("/:id/icon", h.GetIcon)
	apps.GET("/:id/export", h.ExportApp)
	apps.PUT("/:id/status", h.UpdateStatus)
	apps.DELETE("/:id", h.DeleteApp)

	r.POST("/sweep", h.Sweep)
	r.GET("/sources", h.ListSources)
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	counts, err := h.registry.Stats(c.Request.Context())
	if err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"uptime":   time.Since(h.startTime).Round(time.Second).String(),
		"registry": counts,
		"feed":     h.registry.FeedStats(),
	})
}
