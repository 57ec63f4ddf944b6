package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/pkg/ws"
)

// SyncStatusEvent 推送给 WebSocket 订阅者的单车同步结果
type SyncStatusEvent struct {
	UserID    string    `json:"user_id"`
	VehicleID int64     `json:"vehicle_id"`
	Success   bool      `json:"success"`
	IsOffline bool      `json:"is_offline"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder 同步状态与审计记录
type Recorder struct {
	statuses  StatusStore
	audits    AuditStore
	publisher AuditPublisher
	hub       Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecorder 创建记录器
func NewRecorder(statuses StatusStore, audits AuditStore, logger *zap.Logger) *Recorder {
	return &Recorder{
		statuses: statuses,
		audits:   audits,
		logger:   logger,
		now:      time.Now,
	}
}

// WithPublisher 审计事件同时发送到外部
func (r *Recorder) WithPublisher(p AuditPublisher) *Recorder {
	r.publisher = p
	return r
}

// WithBroadcaster 同步结果推送到 WebSocket
func (r *Recorder) WithBroadcaster(b Broadcaster) *Recorder {
	r.hub = b
	return r
}

// RecordSync 写入单车同步结果
func (r *Recorder) RecordSync(ctx context.Context, v *models.Vehicle, o models.SyncOutcome) error {
	if o.At.IsZero() {
		o.At = r.now()
	}
	err := r.statuses.Record(ctx, v.ID, v.UserID, o)
	if err != nil {
		r.logger.Error("Failed to record sync status",
			zap.String("user_id", v.UserID),
			zap.Int64("vehicle_id", v.ID),
			zap.Error(err),
		)
	}

	if r.hub != nil {
		r.hub.SendToUser(v.UserID, ws.MsgTypeSyncStatus, &SyncStatusEvent{
			UserID:    v.UserID,
			VehicleID: v.ID,
			Success:   o.Success,
			IsOffline: o.IsOffline,
			Error:     o.Error,
			At:        o.At,
		})
	}
	return err
}

// Audit 追加审计日志；失败只记录日志
func (r *Recorder) Audit(ctx context.Context, userID, action, entityType, entityID string, details any) {
	var raw json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			r.logger.Warn("Failed to marshal audit details", zap.String("action", action), zap.Error(err))
		} else {
			raw = data
		}
	}

	e := &models.AuditEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    raw,
		CreatedAt:  r.now(),
	}

	if err := r.audits.Insert(ctx, e); err != nil {
		r.logger.Warn("Failed to write audit log",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, e); err != nil {
			r.logger.Warn("Failed to publish audit event",
				zap.String("user_id", userID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
}
