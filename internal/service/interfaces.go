package service

import (
	"context"
	"time"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/sink"
)

// OAuthAPI 授权码流程所需的 Tesla 接口
type OAuthAPI interface {
	AuthorizeURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*tesla.Token, error)
}

// TokenAPI 刷新令牌所需的 Tesla 接口
type TokenAPI interface {
	HasClientCredentials() bool
	RefreshToken(ctx context.Context, refreshToken string) (*tesla.Token, error)
}

// VehicleAPI 车辆相关的 Tesla 接口
type VehicleAPI interface {
	ListVehicles(ctx context.Context, accessToken string) ([]tesla.Vehicle, error)
	GetVehicle(ctx context.Context, accessToken, id string) (*tesla.Vehicle, error)
	GetVehicleData(ctx context.Context, accessToken, id string) (*tesla.VehicleData, error)
	WakeUp(ctx context.Context, accessToken, id string) error
}

// CredentialVault 凭据仓库
type CredentialVault interface {
	Store(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
	Load(ctx context.Context, userID string) (*models.Credentials, error)
	Delete(ctx context.Context, userID string) error
	ConnectedUsers(ctx context.Context) ([]string, error)
}

// PKCEStore 授权 state 存储
type PKCEStore interface {
	Create(ctx context.Context, s *models.PKCEState) error
	Consume(ctx context.Context, state, userID string) (*models.PKCEState, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// VehicleStore 车辆存储
type VehicleStore interface {
	Upsert(ctx context.Context, v *models.Vehicle) error
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Vehicle, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Vehicle, error)
	GetForUser(ctx context.Context, userID string, id int64) (*models.Vehicle, error)
	DeactivateByUser(ctx context.Context, userID string) (int64, error)
}

// ReadingStore 日桶存储
type ReadingStore interface {
	GetLatest(ctx context.Context, vehicleID int64) (*models.MileageReading, error)
	GetByDate(ctx context.Context, vehicleID int64, date string) (*models.MileageReading, error)
	ListRange(ctx context.Context, vehicleID int64, from, to string) ([]*models.MileageReading, error)
	InsertIfAbsent(ctx context.Context, r *models.MileageReading) (bool, error)
	Upsert(ctx context.Context, r *models.MileageReading) error
	UpdateClosure(ctx context.Context, r *models.MileageReading) error
}

// StatusStore 同步状态存储
type StatusStore interface {
	Record(ctx context.Context, vehicleID int64, userID string, o models.SyncOutcome) error
	Get(ctx context.Context, vehicleID int64) (*models.SyncStatus, error)
}

// AuditStore 审计日志存储
type AuditStore interface {
	Insert(ctx context.Context, e *models.AuditEvent) error
}

// AuditPublisher 审计事件外发
type AuditPublisher interface {
	Publish(ctx context.Context, e *models.AuditEvent) error
}

// TripSink 行程外发
type TripSink interface {
	Append(ctx context.Context, trip sink.Trip)
}

// Geocoder 逆地理编码
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error)
}

// Broadcaster 向某个用户的 WebSocket 连接推送事件
type Broadcaster interface {
	SendToUser(userID, msgType string, data interface{})
}
