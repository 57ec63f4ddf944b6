package tesla

import (
	"math"
	"time"
)

// Vehicle 车辆基础信息
type Vehicle struct {
	ID          int64  `json:"id"`
	IDS         string `json:"id_s"`
	VehicleID   int64  `json:"vehicle_id"`
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"` // online, asleep, offline
	InService   bool   `json:"in_service"`
}

// RemoteID Fleet API 路径中使用的车辆 ID
func (v *Vehicle) RemoteID() string {
	if v.IDS != "" {
		return v.IDS
	}
	return formatID(v.ID)
}

// VehicleData 车辆完整数据
type VehicleData struct {
	ID            int64          `json:"id"`
	IDS           string         `json:"id_s"`
	VIN           string         `json:"vin"`
	DisplayName   string         `json:"display_name"`
	State         string         `json:"state"`
	DriveState    *DriveState    `json:"drive_state,omitempty"`
	VehicleState  *VehicleState  `json:"vehicle_state,omitempty"`
	VehicleConfig *VehicleConfig `json:"vehicle_config,omitempty"`
}

// OdometerMiles 里程表读数（英里），没有 vehicle_state 时返回 false
func (d *VehicleData) OdometerMiles() (float64, bool) {
	if d == nil || d.VehicleState == nil {
		return 0, false
	}
	return d.VehicleState.Odometer, true
}

// Coordinates 车辆坐标，没有定位数据时返回 false
func (d *VehicleData) Coordinates() (lat, lng float64, ok bool) {
	if d == nil || d.DriveState == nil {
		return 0, 0, false
	}
	if d.DriveState.Latitude == 0 && d.DriveState.Longitude == 0 {
		return 0, 0, false
	}
	return d.DriveState.Latitude, d.DriveState.Longitude, true
}

// DriveState 驾驶状态
type DriveState struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Heading    int     `json:"heading"`
	GpsAsOf    int64   `json:"gps_as_of"`
	Speed      *int    `json:"speed,omitempty"`       // 英里/小时, nil 表示停止
	ShiftState *string `json:"shift_state,omitempty"` // D, R, P, N
	Timestamp  int64   `json:"timestamp"`
}

// VehicleState 车辆状态
type VehicleState struct {
	Odometer    float64 `json:"odometer"` // 英里
	Locked      bool    `json:"locked"`
	VehicleName string  `json:"vehicle_name"`
	Timestamp   int64   `json:"timestamp"`
}

// VehicleConfig 车辆配置
type VehicleConfig struct {
	CarType     string `json:"car_type"`
	TrimBadging string `json:"trim_badging"`
}

// Token 认证令牌
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExpiresAt 令牌过期时间
func (t *Token) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// MilesToKm 英里转公里
func MilesToKm(miles float64) float64 {
	return miles * 1.60934
}

// OdometerKm 英里里程表读数转为整公里
func OdometerKm(miles float64) float64 {
	return math.Round(MilesToKm(miles))
}
