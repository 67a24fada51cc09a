// Package opsapi serves the read-only operations API of the relay.
package opsapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"usagerelay/internal/broker"
	"usagerelay/internal/logger"
	"usagerelay/pkg/errors"
	"usagerelay/pkg/health"
)

// Pipeline is a running consumer as seen by the ops API.
type Pipeline interface {
	Queue() string
	Stats() broker.Stats
}

// CacheSizer reports how many message ids the redelivery guard tracks.
type CacheSizer interface {
	CacheSize(ctx context.Context) (int, error)
}

type Handler struct {
	pipelines []Pipeline
	guard     CacheSizer
	health    *health.CheckerRegistry
	logger    logger.Logger
}

// NewHandler serves pipelines in the order given. guard may be nil.
func NewHandler(pipelines []Pipeline, guard CacheSizer, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	if checks == nil {
		checks = health.NewCheckerRegistry()
	}
	return &Handler{
		pipelines: pipelines,
		guard:     guard,
		health:    checks,
		logger:    log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/pipelines", h.ListPipelines)
		v1.GET("/pipelines/:queue", h.GetPipeline)
		v1.GET("/redelivery", h.GetRedelivery)
	}
	router.GET("/health", h.Health)
}

// ListPipelines godoc
// @Summary      List pipelines
// @Description  Queue, handler chain and batch counters of every consumer
// @Tags         pipelines
// @Produce      json
// @Success      200  {array}   broker.Stats
// @Router       /pipelines [get]
func (h *Handler) ListPipelines(c *gin.Context) {
	out := make([]broker.Stats, 0, len(h.pipelines))
	for _, p := range h.pipelines {
		out = append(out, p.Stats())
	}
	c.JSON(http.StatusOK, out)
}

// GetPipeline godoc
// @Summary      Get one pipeline
// @Tags         pipelines
// @Produce      json
// @Param        queue  path      string  true  "Queue name"
// @Success      200    {object}  broker.Stats
// @Failure      404    {object}  errors.ErrorResponse
// @Router       /pipelines/{queue} [get]
func (h *Handler) GetPipeline(c *gin.Context) {
	queue := c.Param("queue")
	for _, p := range h.pipelines {
		if p.Queue() == queue {
			c.JSON(http.StatusOK, p.Stats())
			return
		}
	}
	h.HandleError(c, errors.ErrNotFound.WithMessage("no pipeline consumes %s", queue))
}

// RedeliveryStatus is the state of the redelivery guard.
type RedeliveryStatus struct {
	Enabled    bool `json:"enabled"`
	TrackedIDs int  `json:"tracked_ids"`
}

// GetRedelivery godoc
// @Summary      Redelivery guard status
// @Tags         redelivery
// @Produce      json
// @Success      200  {object}  RedeliveryStatus
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /redelivery [get]
func (h *Handler) GetRedelivery(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusOK, RedeliveryStatus{})
		return
	}
	n, err := h.guard.CacheSize(c.Request.Context())
	if err != nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, RedeliveryStatus{Enabled: true, TrackedIDs: n})
}

// Health godoc
// @Summary      Dependency health
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Health
// @Failure      503  {object}  health.Health
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}
