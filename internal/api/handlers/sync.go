package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/service"
)

// SyncMine 同步当前用户
// POST /api/sync
func (h *Handler) SyncMine(c *gin.Context) {
	userID := currentUser(c)
	summary, err := h.syncer.SyncUser(c.Request.Context(), userID)
	if err != nil {
		h.respondSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// SyncAll 同步全部已连接用户（定时任务触发）
// POST /api/sync/all
func (h *Handler) SyncAll(c *gin.Context) {
	summary, err := h.syncer.SyncAll(c.Request.Context())
	if err != nil {
		h.respondSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) respondSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A sync is already running"})
	case errors.Is(err, service.ErrConfiguration):
		h.logger.Error("Sync aborted by configuration error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Tesla integration is not configured on the server"})
	default:
		h.logger.Error("Sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
	}
}
