package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/service"
)

// ListVehicles 当前用户的车辆
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.directory.List(c.Request.Context(), currentUser(c))
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// ListReadings 车辆日桶
// GET /api/vehicles/:id/readings?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListReadings(c *gin.Context) {
	id, ok := vehicleID(c)
	if !ok {
		return
	}

	readings, err := h.directory.Readings(c.Request.Context(), currentUser(c), id, c.Query("from"), c.Query("to"))
	switch {
	case errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
	case err != nil:
		h.logger.Warn("Failed to list readings", zap.Int64("vehicle_id", id), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"data": readings})
	}
}

// GetVehicleStatus 同步与唤醒状态
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	id, ok := vehicleID(c)
	if !ok {
		return
	}

	status, err := h.directory.Status(c.Request.Context(), currentUser(c), id)
	switch {
	case errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
	case err != nil:
		h.logger.Error("Failed to load vehicle status", zap.Int64("vehicle_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load vehicle status"})
	default:
		c.JSON(http.StatusOK, gin.H{"data": status})
	}
}
