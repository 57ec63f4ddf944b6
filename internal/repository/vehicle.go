package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db DBTX
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db DBTX) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `id, user_id, tesla_vehicle_id, COALESCE(vin, ''), COALESCE(display_name, ''), COALESCE(model, ''), is_active, created_at, updated_at`

func scanVehicle(row pgx.Row) (*models.Vehicle, error) {
	v := &models.Vehicle{}
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.TeslaVehicleID,
		&v.VIN,
		&v.DisplayName,
		&v.Model,
		&v.IsActive,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	return v, err
}

// Upsert 创建或更新车辆，重新连接时会重新激活
func (r *VehicleRepository) Upsert(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (user_id, tesla_vehicle_id, vin, display_name, model, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
		ON CONFLICT (user_id, tesla_vehicle_id) DO UPDATE SET
			vin = EXCLUDED.vin,
			display_name = EXCLUDED.display_name,
			model = EXCLUDED.model,
			is_active = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := r.db.QueryRow(ctx, query,
		v.UserID,
		v.TeslaVehicleID,
		v.VIN,
		v.DisplayName,
		v.Model,
		now,
		now,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}

	v.IsActive = true
	v.UpdatedAt = now
	return nil
}

// ListActiveByUser 获取用户所有启用的车辆
func (r *VehicleRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE user_id = $1 AND is_active ORDER BY id`
	return r.list(ctx, query, userID)
}

// ListByUser 获取用户所有车辆（含已停用）
func (r *VehicleRepository) ListByUser(ctx context.Context, userID string) ([]*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE user_id = $1 ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *VehicleRepository) list(ctx context.Context, query string, args ...any) ([]*models.Vehicle, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	return vehicles, nil
}

// GetForUser 获取属于某用户的车辆
func (r *VehicleRepository) GetForUser(ctx context.Context, userID string, id int64) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1 AND user_id = $2`
	v, err := scanVehicle(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

// DeactivateByUser 停用用户的所有车辆（不删除）
func (r *VehicleRepository) DeactivateByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE vehicles SET is_active = FALSE, updated_at = $2 WHERE user_id = $1 AND is_active`,
		userID, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate vehicles: %w", err)
	}
	return tag.RowsAffected(), nil
}
