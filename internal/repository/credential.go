package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// CredentialRepository 加密令牌仓库（tesla_credentials）
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository 创建加密令牌仓库
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert 每个用户只保留一条记录
func (r *CredentialRepository) Upsert(ctx context.Context, c *models.EncryptedCredentials) error {
	query := `
		INSERT INTO tesla_credentials (user_id, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err := r.db.Exec(ctx, query,
		c.UserID,
		c.AccessTokenEnc,
		c.RefreshTokenEnc,
		c.ExpiresAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	c.UpdatedAt = now
	return nil
}

// Get 获取用户的加密令牌
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*models.EncryptedCredentials, error) {
	query := `
		SELECT user_id, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at
		FROM tesla_credentials WHERE user_id = $1
	`
	c := &models.EncryptedCredentials{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&c.UserID,
		&c.AccessTokenEnc,
		&c.RefreshTokenEnc,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return c, nil
}

// Delete 删除用户的加密令牌
func (r *CredentialRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tesla_credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// ListUserIDs 所有持有加密令牌的用户
func (r *CredentialRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	return queryUserIDs(ctx, r.db, `SELECT user_id FROM tesla_credentials ORDER BY user_id`)
}

func queryUserIDs(ctx context.Context, db DBTX, query string) ([]string, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}
