package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/repository"
	"github.com/langchou/tesmileage/internal/state"
)

// VehicleDirectory 用户车辆列表、日桶查询与断开连接
type VehicleDirectory struct {
	api      VehicleAPI
	vehicles VehicleStore
	readings ReadingStore
	statuses StatusStore
	vault    CredentialVault
	tokens   *TokenManager
	states   *state.Manager
	recorder *Recorder
	logger   *zap.Logger
}

// NewVehicleDirectory 创建车辆目录
func NewVehicleDirectory(
	api VehicleAPI,
	vehicles VehicleStore,
	readings ReadingStore,
	statuses StatusStore,
	vault CredentialVault,
	tokens *TokenManager,
	states *state.Manager,
	recorder *Recorder,
	logger *zap.Logger,
) *VehicleDirectory {
	return &VehicleDirectory{
		api:      api,
		vehicles: vehicles,
		readings: readings,
		statuses: statuses,
		vault:    vault,
		tokens:   tokens,
		states:   states,
		recorder: recorder,
		logger:   logger,
	}
}

// SyncVehicleList 从 Tesla 拉取车辆并写入，重新连接的车辆会被重新激活
func (d *VehicleDirectory) SyncVehicleList(ctx context.Context, userID, accessToken string) ([]*models.Vehicle, error) {
	remote, err := d.api.ListVehicles(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	vehicles := make([]*models.Vehicle, 0, len(remote))
	for i := range remote {
		rv := &remote[i]
		v := &models.Vehicle{
			UserID:         userID,
			TeslaVehicleID: rv.RemoteID(),
			VIN:            rv.VIN,
			DisplayName:    rv.DisplayName,
			Model:          modelFromVIN(rv.VIN),
		}
		if err := d.vehicles.Upsert(ctx, v); err != nil {
			return vehicles, err
		}
		vehicles = append(vehicles, v)
	}

	d.logger.Info("Synced vehicle list", zap.String("user_id", userID), zap.Int("count", len(vehicles)))
	return vehicles, nil
}

// Connected 新令牌保存后调用：清除旧缓存并同步车辆列表
func (d *VehicleDirectory) Connected(ctx context.Context, userID, accessToken string) ([]*models.Vehicle, error) {
	if d.tokens != nil {
		d.tokens.Invalidate(userID)
	}
	return d.SyncVehicleList(ctx, userID, accessToken)
}

// Disconnect 停用车辆并删除凭据；历史日桶保留
func (d *VehicleDirectory) Disconnect(ctx context.Context, userID string) error {
	n, err := d.vehicles.DeactivateByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := d.vault.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if d.tokens != nil {
		d.tokens.Invalidate(userID)
	}

	d.recorder.Audit(ctx, userID, models.AuditTeslaDisconnected, "tesla_credentials", userID,
		map[string]int64{"vehicles_deactivated": n})
	d.logger.Info("Tesla account disconnected", zap.String("user_id", userID), zap.Int64("vehicles", n))
	return nil
}

// List 用户的全部车辆
func (d *VehicleDirectory) List(ctx context.Context, userID string) ([]*models.Vehicle, error) {
	return d.vehicles.ListByUser(ctx, userID)
}

// Readings 车辆在 [from, to] 内的日桶；from/to 为空时默认最近 30 天
func (d *VehicleDirectory) Readings(ctx context.Context, userID string, vehicleID int64, from, to string) ([]*models.MileageReading, error) {
	if _, err := d.get(ctx, userID, vehicleID); err != nil {
		return nil, err
	}

	today := dayOf(time.Now())
	if to == "" {
		to = today.Format(models.DateLayout)
	}
	if from == "" {
		from = today.AddDate(0, 0, -30).Format(models.DateLayout)
	}
	for _, s := range []string{from, to} {
		if _, err := time.Parse(models.DateLayout, s); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
	}
	return d.readings.ListRange(ctx, vehicleID, from, to)
}

// VehicleStatus 同步状态与当前唤醒状态
type VehicleStatus struct {
	Vehicle *models.Vehicle    `json:"vehicle"`
	Sync    *models.SyncStatus `json:"sync,omitempty"`
	Wake    *state.WakeState   `json:"wake,omitempty"`
}

// Status 查询车辆状态
func (d *VehicleDirectory) Status(ctx context.Context, userID string, vehicleID int64) (*VehicleStatus, error) {
	v, err := d.get(ctx, userID, vehicleID)
	if err != nil {
		return nil, err
	}

	out := &VehicleStatus{Vehicle: v}
	s, err := d.statuses.Get(ctx, vehicleID)
	switch {
	case err == nil:
		out.Sync = s
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	if m, ok := d.states.Get(vehicleID); ok {
		out.Wake = m.GetState()
	}
	return out, nil
}

func (d *VehicleDirectory) get(ctx context.Context, userID string, vehicleID int64) (*models.Vehicle, error) {
	v, err := d.vehicles.GetForUser(ctx, userID, vehicleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrVehicleNotFound
	}
	return v, err
}

// modelFromVIN 根据 VIN 第 4 位推断车型
func modelFromVIN(vin string) string {
	if len(vin) < 4 {
		return ""
	}
	switch vin[3] {
	case 'S':
		return "Model S"
	case '3':
		return "Model 3"
	case 'X':
		return "Model X"
	case 'Y':
		return "Model Y"
	case 'C':
		return "Cybertruck"
	default:
		return ""
	}
}
