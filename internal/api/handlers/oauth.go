package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/service"
)

type callbackRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

// StartOAuth 生成 Tesla 授权地址
// POST /api/tesla/oauth/start
func (h *Handler) StartOAuth(c *gin.Context) {
	userID := currentUser(c)
	url, err := h.oauth.Begin(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to start tesla oauth", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.UserMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
}

// OAuthCallback 用授权码换取令牌
// POST /api/tesla/oauth/callback
func (h *Handler) OAuthCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	userID := currentUser(c)
	if err := h.oauth.Complete(c.Request.Context(), userID, req.Code, req.State); err != nil {
		code, _ := service.CodeOf(err)
		h.logger.Warn("Tesla oauth callback failed",
			zap.String("user_id", userID),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		c.JSON(oauthStatus(code), gin.H{"error": service.UserMessage(err), "code": code})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true}})
}

// oauthStatus 错误码对应的 HTTP 状态
func oauthStatus(code service.ErrorCode) int {
	switch code {
	case service.CodeInvalidState, service.CodeExpiredState:
		return http.StatusBadRequest
	case service.CodeCodeExchangeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Disconnect 断开 Tesla 账号
// POST /api/tesla/disconnect
func (h *Handler) Disconnect(c *gin.Context) {
	userID := currentUser(c)
	if err := h.directory.Disconnect(c.Request.Context(), userID); err != nil {
		h.logger.Error("Failed to disconnect tesla", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect Tesla account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true}})
}
