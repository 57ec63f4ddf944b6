package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// ProfileRepository 遗留明文令牌（profiles 表），只读取和清除
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository 创建遗留令牌仓库
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetLegacy 读取遗留令牌，没有访问令牌时返回 ErrNotFound
func (r *ProfileRepository) GetLegacy(ctx context.Context, userID string) (*models.LegacyCredentials, error) {
	query := `
		SELECT user_id, tesla_access_token, tesla_refresh_token, tesla_token_expires_at
		FROM profiles WHERE user_id = $1 AND tesla_access_token IS NOT NULL
	`
	c := &models.LegacyCredentials{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&c.UserID,
		&c.AccessToken,
		&c.RefreshToken,
		&c.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get legacy credentials: %w", err)
	}
	return c, nil
}

// ClearLegacy 清空遗留令牌列
func (r *ProfileRepository) ClearLegacy(ctx context.Context, userID string) error {
	query := `
		UPDATE profiles
		SET tesla_access_token = NULL, tesla_refresh_token = NULL, tesla_token_expires_at = NULL
		WHERE user_id = $1
	`
	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("clear legacy credentials: %w", err)
	}
	return nil
}

// ListLegacyUserIDs 仍持有遗留令牌的用户
func (r *ProfileRepository) ListLegacyUserIDs(ctx context.Context) ([]string, error) {
	return queryUserIDs(ctx, r.db, `SELECT user_id FROM profiles WHERE tesla_access_token IS NOT NULL ORDER BY user_id`)
}
