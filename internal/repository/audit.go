package repository

import (
	"context"
	"fmt"

	"github.com/langchou/tesmileage/internal/models"
)

// AuditRepository 审计日志仓库，只追加
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository 创建审计日志仓库
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert 追加一条审计日志
func (r *AuditRepository) Insert(ctx context.Context, e *models.AuditEvent) error {
	details := []byte(e.Details)
	if len(details) == 0 {
		details = []byte(`{}`)
	}
	query := `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, e.ID, e.UserID, e.Action, e.EntityType, e.EntityID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
