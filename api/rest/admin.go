package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/guildsync/middleware"
	"github.com/kasuganosora/guildsync/runlog"
	"github.com/kasuganosora/guildsync/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	job    *scheduler.SyncJob
	sched  *scheduler.Scheduler
	runs   *runlog.Service
	base   context.Context
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. Runs started over HTTP use base
// as their context so they outlive the request.
func NewAdminHandler(
	base context.Context,
	job *scheduler.SyncJob,
	sched *scheduler.Scheduler,
	runs *runlog.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{job: job, sched: sched, runs: runs, base: base, logger: logger}
}

// StartSync starts a reconciliation run in the background.
// POST /api/admin/sync
func (h *AdminHandler) StartSync(c *gin.Context) {
	runID, err := h.job.Start(c.Request.Context(), h.base)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("start sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Info("sync started over http",
		zap.String("run_id", runID),
		zap.String("trace_id", mw.GetTraceID(c)),
		zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// ListRuns returns the latest run summaries.
// GET /api/admin/runs?limit=20
func (h *AdminHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	runs, err := h.runs.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		internalError(c, h.logger, "list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// RunEvents returns every recorded event of one run.
// GET /api/admin/runs/:run_id
func (h *AdminHandler) RunEvents(c *gin.Context) {
	runID := c.Param("run_id")
	events, err := h.runs.RunEvents(c.Request.Context(), runID)
	if err != nil {
		internalError(c, h.logger, "run events", err)
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "events": events})
}

// SchedulerStatus lists scheduled tasks and the sync job state.
// GET /api/admin/scheduler
func (h *AdminHandler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tasks": h.sched.Tasks(),
		"job":   h.job.Status(),
	})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
