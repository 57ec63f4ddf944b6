package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/service"
	"github.com/langchou/tesmileage/pkg/ws"
)

// OAuthFlow Tesla 授权流程
type OAuthFlow interface {
	Begin(ctx context.Context, userID string) (string, error)
	Complete(ctx context.Context, userID, code, state string) error
}

// Syncer 同步触发
type Syncer interface {
	SyncAll(ctx context.Context) (*service.Summary, error)
	SyncUser(ctx context.Context, userID string) (*service.Summary, error)
}

// Directory 车辆与日桶查询
type Directory interface {
	List(ctx context.Context, userID string) ([]*models.Vehicle, error)
	Readings(ctx context.Context, userID string, vehicleID int64, from, to string) ([]*models.MileageReading, error)
	Status(ctx context.Context, userID string, vehicleID int64) (*service.VehicleStatus, error)
	Disconnect(ctx context.Context, userID string) error
}

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	oauth      OAuthFlow
	syncer     Syncer
	directory  Directory
	wsHub      *ws.Hub
	gatherer   prometheus.Gatherer
	jwtSecret  []byte
	cronSecret string
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	oauth OAuthFlow,
	syncer Syncer,
	directory Directory,
	wsHub *ws.Hub,
	gatherer prometheus.Gatherer,
	jwtSecret string,
	cronSecret string,
) *Handler {
	return &Handler{
		logger:     logger,
		oauth:      oauth,
		syncer:     syncer,
		directory:  directory,
		wsHub:      wsHub,
		gatherer:   gatherer,
		jwtSecret:  []byte(jwtSecret),
		cronSecret: cronSecret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 连接已通过 token 认证
			},
		},
	}
}

// vehicleID 解析路径中的车辆 ID
func vehicleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return 0, false
	}
	return id, true
}

// HandleWebSocket WebSocket 处理，token 通过查询参数传入
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, err := h.parseToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, userID)
	if !client.Register() {
		conn.Close()
		return
	}

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
