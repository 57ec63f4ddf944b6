package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		user := api.Group("", h.RequireUser())

		// Tesla 账号
		user.POST("/tesla/oauth/start", h.StartOAuth)
		user.POST("/tesla/oauth/callback", h.OAuthCallback)
		user.POST("/tesla/disconnect", h.Disconnect)

		// 同步
		user.POST("/sync", h.SyncMine)
		api.POST("/sync/all", h.RequireCronSecret(), h.SyncAll)

		// 车辆
		user.GET("/vehicles", h.ListVehicles)
		user.GET("/vehicles/:id/readings", h.ListReadings)
		user.GET("/vehicles/:id/status", h.GetVehicleStatus)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	// 健康检查
	r.GET("/health", h.HealthCheck)
}
