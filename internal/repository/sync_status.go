package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// SyncStatusRepository 同步状态仓库
type SyncStatusRepository struct {
	db DBTX
}

// NewSyncStatusRepository 创建同步状态仓库
func NewSyncStatusRepository(db DBTX) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

// Record 写入一次同步尝试；成功时清零连续失败次数
func (r *SyncStatusRepository) Record(ctx context.Context, vehicleID int64, userID string, o models.SyncOutcome) error {
	var lastError *string
	if o.Error != "" {
		lastError = &o.Error
	}
	query := `
		INSERT INTO sync_status (vehicle_id, user_id, last_sync_attempt, last_successful_sync, consecutive_failures, last_error, is_offline)
		VALUES ($1, $2, $3, CASE WHEN $4 THEN $3::timestamptz END, CASE WHEN $4 THEN 0 ELSE 1 END, $5, $6)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			last_sync_attempt = EXCLUDED.last_sync_attempt,
			last_successful_sync = CASE WHEN $4 THEN EXCLUDED.last_sync_attempt ELSE sync_status.last_successful_sync END,
			consecutive_failures = CASE WHEN $4 THEN 0 ELSE sync_status.consecutive_failures + 1 END,
			last_error = EXCLUDED.last_error,
			is_offline = EXCLUDED.is_offline
	`
	_, err := r.db.Exec(ctx, query, vehicleID, userID, o.At, o.Success, lastError, o.IsOffline)
	if err != nil {
		return fmt.Errorf("record sync status: %w", err)
	}
	return nil
}

// Get 获取车辆同步状态
func (r *SyncStatusRepository) Get(ctx context.Context, vehicleID int64) (*models.SyncStatus, error) {
	query := `
		SELECT vehicle_id, user_id, last_sync_attempt, last_successful_sync, consecutive_failures, last_error, is_offline
		FROM sync_status WHERE vehicle_id = $1
	`
	s := &models.SyncStatus{}
	err := r.db.QueryRow(ctx, query, vehicleID).Scan(
		&s.VehicleID,
		&s.UserID,
		&s.LastSyncAttempt,
		&s.LastSuccessfulSync,
		&s.ConsecutiveFailures,
		&s.LastError,
		&s.IsOffline,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	return s, nil
}
