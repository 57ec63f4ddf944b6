package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/sink"
)

// BackfillReason 补齐桶的元数据说明
const BackfillReason = "gap_backfill"

// ReconcileInput 一次成功拉取后的结算输入
type ReconcileInput struct {
	Vehicle       *models.Vehicle
	LastReading   *models.MileageReading
	OdometerMiles float64
	Latitude      *float64
	Longitude     *float64
	LocationName  string
	Now           time.Time
}

// ReconcileResult 结算结果
type ReconcileResult struct {
	Today      string  `json:"today"`
	OdometerKm float64 `json:"odometer_km"`
	ClosedDate string  `json:"closed_date,omitempty"`
	DailyKm    float64 `json:"daily_km"`
	Backfilled int     `json:"backfilled"`
}

// Reconciler 把里程表读数整理为连续的日桶
type Reconciler struct {
	readings ReadingStore
	trips    TripSink
	logger   *zap.Logger
}

// NewReconciler 创建结算器；trips 可为 nil
func NewReconciler(readings ReadingStore, trips TripSink, logger *zap.Logger) *Reconciler {
	if trips == nil {
		trips = sink.Discard{}
	}
	return &Reconciler{readings: readings, trips: trips, logger: logger}
}

// dayOf UTC 日历日
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Backfill 为 (last.date, today) 之间缺失的每一天写入零里程桶，返回新写入的数量
func (r *Reconciler) Backfill(ctx context.Context, v *models.Vehicle, last *models.MileageReading, today time.Time) (int, error) {
	if last == nil {
		return 0, nil
	}
	lastDate, err := last.Date()
	if err != nil {
		return 0, fmt.Errorf("parse reading date %q: %w", last.ReadingDate, err)
	}

	today = dayOf(today)
	inserted := 0
	for d := lastDate.AddDate(0, 0, 1); d.Before(today); d = d.AddDate(0, 0, 1) {
		ok, err := r.readings.InsertIfAbsent(ctx, &models.MileageReading{
			VehicleID:    v.ID,
			UserID:       v.UserID,
			ReadingDate:  d.Format(models.DateLayout),
			OdometerKm:   last.OdometerKm,
			DailyKm:      0,
			LocationName: last.LocationName,
			Metadata:     models.SyntheticMetadata{Reason: BackfillReason},
		})
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}

	if inserted > 0 {
		r.logger.Info("Backfilled missing days",
			zap.Int64("vehicle_id", v.ID),
			zap.String("from", last.ReadingDate),
			zap.Int("days", inserted),
		)
	}
	return inserted, nil
}

// Reconcile 补齐缺口、结算昨天的里程并写入今天的桶
func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	v := in.Vehicle
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := dayOf(now)
	todayStr := today.Format(models.DateLayout)
	currentKm := tesla.OdometerKm(in.OdometerMiles)

	result := &ReconcileResult{Today: todayStr, OdometerKm: currentKm}

	n, err := r.Backfill(ctx, v, in.LastReading, today)
	if err != nil {
		return nil, fmt.Errorf("backfill: %w", err)
	}
	result.Backfilled = n

	yesterday := today.AddDate(0, 0, -1).Format(models.DateLayout)
	baseline, err := r.readings.GetByDate(ctx, v.ID, yesterday)
	if err != nil {
		return nil, fmt.Errorf("load yesterday: %w", err)
	}
	if baseline == nil {
		baseline = in.LastReading
	}

	if baseline != nil && baseline.ReadingDate != todayStr && baseline.OdometerKm > 0 {
		if err := r.close(ctx, baseline, currentKm, in, now, result); err != nil {
			return nil, err
		}
	}

	if err := r.readings.Upsert(ctx, &models.MileageReading{
		VehicleID:    v.ID,
		UserID:       v.UserID,
		ReadingDate:  todayStr,
		OdometerKm:   currentKm,
		DailyKm:      0,
		LocationName: in.LocationName,
		Metadata: models.SyncedMetadata{
			Latitude:     in.Latitude,
			Longitude:    in.Longitude,
			LocationName: in.LocationName,
			SyncedAt:     now,
		},
	}); err != nil {
		return nil, fmt.Errorf("upsert today: %w", err)
	}

	return result, nil
}

// close 把 start 到当前读数的距离归入基准桶；start 在首次结算时记录，重复同步时保持不变
func (r *Reconciler) close(ctx context.Context, baseline *models.MileageReading, currentKm float64, in ReconcileInput, now time.Time, result *ReconcileResult) error {
	startKm := baseline.OdometerKm
	if m, ok := baseline.Metadata.(models.SyncedMetadata); ok && m.StartOdometerKm != nil {
		startKm = *m.StartOdometerKm
	}

	dailyKm := math.Max(0, math.Round(currentKm-startKm))
	if dailyKm <= 0 {
		return nil
	}
	// 已按相同或更大的值结算过的日桶不再写入，也不重复推送行程
	if dailyKm <= baseline.DailyKm {
		result.ClosedDate = baseline.ReadingDate
		result.DailyKm = baseline.DailyKm
		return nil
	}

	// 行程只覆盖上次结算之后新增的那一段
	tripStart, tripKm := startKm, dailyKm
	if baseline.DailyKm > 0 {
		tripStart = baseline.OdometerKm
		tripKm = dailyKm - baseline.DailyKm
	}

	start, end := startKm, currentKm
	closed := *baseline
	closed.DailyKm = dailyKm
	closed.OdometerKm = currentKm
	if in.LocationName != "" {
		closed.LocationName = in.LocationName
	}
	closed.Metadata = models.SyncedMetadata{
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		LocationName:    closed.LocationName,
		StartOdometerKm: &start,
		EndOdometerKm:   &end,
		SyncedAt:        now,
	}
	if err := r.readings.UpdateClosure(ctx, &closed); err != nil {
		return fmt.Errorf("close %s: %w", baseline.ReadingDate, err)
	}

	result.ClosedDate = closed.ReadingDate
	result.DailyKm = dailyKm

	r.trips.Append(ctx, sink.Trip{
		UserID:          in.Vehicle.UserID,
		VehicleID:       in.Vehicle.ID,
		VIN:             in.Vehicle.VIN,
		Date:            closed.ReadingDate,
		DistanceKm:      tripKm,
		StartOdometerKm: tripStart,
		EndOdometerKm:   end,
		LocationName:    closed.LocationName,
	})
	return nil
}
