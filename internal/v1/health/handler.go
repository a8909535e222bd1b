package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatd-io/chatd/internal/v1/logging"
)

// Pinger is the slice of the mirror the handler needs. A nil Pinger means
// single-instance mode with no external dependency to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check and stats endpoints. stats produces the
// aggregate snapshot served on /stats; nil disables the endpoint.
type Handler struct {
	mirror Pinger
	stats  func() any
}

func NewHandler(mirror Pinger, stats func() any) *Handler {
	return &Handler{mirror: mirror, stats: stats}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis": h.checkMirror(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	if checks["redis"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles the aggregate snapshot endpoint
// GET /stats
func (h *Handler) Stats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.stats())
}

func (h *Handler) checkMirror(ctx context.Context) string {
	if h.mirror == nil {
		return "healthy"
	}
	if err := h.mirror.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
