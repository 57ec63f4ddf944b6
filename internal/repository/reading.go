package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/langchou/tesmileage/internal/models"
)

// ReadingRepository 日桶数据仓库
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository 创建日桶仓库
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

const readingColumns = `id, vehicle_id, user_id, reading_date::text, odometer_km, daily_km, location_name, metadata, created_at, updated_at`

func scanReading(row pgx.Row) (*models.MileageReading, error) {
	r := &models.MileageReading{}
	var meta []byte
	err := row.Scan(
		&r.ID,
		&r.VehicleID,
		&r.UserID,
		&r.ReadingDate,
		&r.OdometerKm,
		&r.DailyKm,
		&r.LocationName,
		&meta,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Metadata, err = models.UnmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetLatest 获取车辆最新的日桶，无记录时返回 nil
func (r *ReadingRepository) GetLatest(ctx context.Context, vehicleID int64) (*models.MileageReading, error) {
	query := `SELECT ` + readingColumns + ` FROM mileage_readings WHERE vehicle_id = $1 ORDER BY reading_date DESC LIMIT 1`
	reading, err := scanReading(r.db.QueryRow(ctx, query, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}
	return reading, nil
}

// GetByDate 获取某天的日桶，无记录时返回 nil
func (r *ReadingRepository) GetByDate(ctx context.Context, vehicleID int64, date string) (*models.MileageReading, error) {
	query := `SELECT ` + readingColumns + ` FROM mileage_readings WHERE vehicle_id = $1 AND reading_date = $2::date`
	reading, err := scanReading(r.db.QueryRow(ctx, query, vehicleID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reading by date: %w", err)
	}
	return reading, nil
}

// ListRange 获取日期区间内的日桶（含两端）
func (r *ReadingRepository) ListRange(ctx context.Context, vehicleID int64, from, to string) ([]*models.MileageReading, error) {
	query := `SELECT ` + readingColumns + ` FROM mileage_readings
		WHERE vehicle_id = $1 AND reading_date BETWEEN $2::date AND $3::date
		ORDER BY reading_date`
	rows, err := r.db.Query(ctx, query, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.MileageReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return readings, nil
}

// InsertIfAbsent 插入日桶，已存在时不做任何修改
func (r *ReadingRepository) InsertIfAbsent(ctx context.Context, reading *models.MileageReading) (bool, error) {
	meta, err := models.MarshalMetadata(reading.Metadata)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO mileage_readings (vehicle_id, user_id, reading_date, odometer_km, daily_km, location_name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vehicle_id, reading_date) DO NOTHING
	`
	now := time.Now()
	tag, err := r.db.Exec(ctx, query,
		reading.VehicleID,
		reading.UserID,
		reading.ReadingDate,
		reading.OdometerKm,
		reading.DailyKm,
		reading.LocationName,
		meta,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("insert reading: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Upsert 写入日桶，冲突时覆盖里程与元数据
func (r *ReadingRepository) Upsert(ctx context.Context, reading *models.MileageReading) error {
	meta, err := models.MarshalMetadata(reading.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO mileage_readings (vehicle_id, user_id, reading_date, odometer_km, daily_km, location_name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (vehicle_id, reading_date) DO UPDATE SET
			odometer_km = EXCLUDED.odometer_km,
			daily_km = EXCLUDED.daily_km,
			location_name = EXCLUDED.location_name,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err = r.db.Exec(ctx, query,
		reading.VehicleID,
		reading.UserID,
		reading.ReadingDate,
		reading.OdometerKm,
		reading.DailyKm,
		reading.LocationName,
		meta,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert reading: %w", err)
	}
	reading.UpdatedAt = now
	return nil
}

// UpdateClosure 结算已有日桶的归属里程
func (r *ReadingRepository) UpdateClosure(ctx context.Context, reading *models.MileageReading) error {
	meta, err := models.MarshalMetadata(reading.Metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE mileage_readings
		SET daily_km = $3, odometer_km = $4, location_name = $5, metadata = $6, updated_at = $7
		WHERE vehicle_id = $1 AND reading_date = $2::date
	`
	now := time.Now()
	tag, err := r.db.Exec(ctx, query,
		reading.VehicleID,
		reading.ReadingDate,
		reading.DailyKm,
		reading.OdometerKm,
		reading.LocationName,
		meta,
		now,
	)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	reading.UpdatedAt = now
	return nil
}
