package models

import (
	"encoding/json"
	"time"
)

// SyncStatus 每辆车的同步健康状态
type SyncStatus struct {
	VehicleID           int64      `json:"vehicle_id" db:"vehicle_id"`
	UserID              string     `json:"user_id" db:"user_id"`
	LastSyncAttempt     time.Time  `json:"last_sync_attempt" db:"last_sync_attempt"`
	LastSuccessfulSync  *time.Time `json:"last_successful_sync,omitempty" db:"last_successful_sync"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	LastError           *string    `json:"last_error,omitempty" db:"last_error"`
	IsOffline           bool       `json:"is_offline" db:"is_offline"`
}

// SyncOutcome 单车同步结果
type SyncOutcome struct {
	Success   bool
	IsOffline bool
	Error     string
	At        time.Time
}

// 审计动作
const (
	AuditTeslaConnected    = "tesla_connected"
	AuditTeslaDisconnected = "tesla_disconnected"
	AuditTokenRefreshed    = "token_refreshed"
	AuditMileageSynced     = "mileage_synced"
	AuditSyncFailed        = "sync_failed"
	AuditCredentialsMoved  = "credentials_migrated"
)

// AuditEvent 追加式审计记录
type AuditEvent struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
