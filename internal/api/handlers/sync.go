package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/repository"
	"github.com/langchou/odosync/internal/service"
)

// TriggerSync 后台触发一轮同步
// POST /api/sync
func (h *Handler) TriggerSync(c *gin.Context) {
	if h.syncer.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrSyncInProgress.Error()})
		return
	}

	go func() {
		report, err := h.syncer.RunOnce(h.baseCtx)
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			h.logger.Info("Sync trigger ignored, another run is in progress")
		case err != nil:
			h.logger.Error("Triggered sync failed", zap.Error(err))
		default:
			h.logger.Info("Triggered sync finished", zap.String("run_id", report.RunID.String()))
		}
	}()

	h.logger.Info("Sync triggered via API")
	c.JSON(http.StatusAccepted, gin.H{"message": "Sync started"})
}

// ListVehicleStates 各车辆当前同步阶段
func (h *Handler) ListVehicleStates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.states.GetAllStates()})
}

// ListRuns 获取同步记录
func (h *Handler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync ledger not configured"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), perPage, (page-1)*perPage)
	if err != nil {
		h.logger.Error("Failed to list sync runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
		},
	})
}

// LatestRun 最近一轮同步；没有账本时返回内存中的报告
func (h *Handler) LatestRun(c *gin.Context) {
	if h.runs == nil {
		report := h.syncer.LastReport()
		if report == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No sync run yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": report})
		return
	}

	run, err := h.runs.LatestRun(c.Request.Context())
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No sync run yet"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get latest sync run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest sync run"})
		return
	}
	h.writeRun(c, run.ID)
}

// GetRun 获取某轮同步及单车结果
func (h *Handler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sync ledger not configured"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run ID"})
		return
	}
	h.writeRun(c, id)
}

func (h *Handler) writeRun(c *gin.Context, id uuid.UUID) {
	ctx := c.Request.Context()

	run, err := h.runs.GetRun(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get sync run", zap.Error(err), zap.String("run_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get sync run"})
		return
	}

	results, err := h.runs.ListResults(ctx, id)
	if err != nil {
		h.logger.Error("Failed to list sync results", zap.Error(err), zap.String("run_id", id.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sync results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"run":     run,
			"results": results,
		},
	})
}
