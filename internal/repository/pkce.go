package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// PKCERepository 授权 state 仓库
type PKCERepository struct {
	db DBTX
}

// NewPKCERepository 创建授权 state 仓库
func NewPKCERepository(db DBTX) *PKCERepository {
	return &PKCERepository{db: db}
}

// Create 保存新的 state
func (r *PKCERepository) Create(ctx context.Context, s *models.PKCEState) error {
	query := `
		INSERT INTO pkce_states (state, code_verifier, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, s.State, s.CodeVerifier, s.UserID, s.CreatedAt); err != nil {
		return fmt.Errorf("insert pkce state: %w", err)
	}
	return nil
}

// Consume 原子地取出并删除 state，两个并发请求最多一个成功
func (r *PKCERepository) Consume(ctx context.Context, state, userID string) (*models.PKCEState, error) {
	query := `
		DELETE FROM pkce_states WHERE state = $1 AND user_id = $2
		RETURNING state, code_verifier, user_id, created_at
	`
	s := &models.PKCEState{}
	err := r.db.QueryRow(ctx, query, state, userID).Scan(&s.State, &s.CodeVerifier, &s.UserID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume pkce state: %w", err)
	}
	return s, nil
}

// DeleteOlderThan 清理过期 state
func (r *PKCERepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM pkce_states WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge pkce states: %w", err)
	}
	return tag.RowsAffected(), nil
}
