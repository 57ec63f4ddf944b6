package models

import "time"

// Vehicle 用户绑定的车辆
type Vehicle struct {
	ID             int64     `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	TeslaVehicleID string    `json:"tesla_vehicle_id" db:"tesla_vehicle_id"`
	VIN            string    `json:"vin" db:"vin"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	Model          string    `json:"model" db:"model"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
