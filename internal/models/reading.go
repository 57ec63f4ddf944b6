package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout 日桶日期格式（UTC 日历日）
const DateLayout = "2006-01-02"

// MileageReading 日桶：某车辆某一天的里程表快照与归属里程
type MileageReading struct {
	ID           int64          `json:"id" db:"id"`
	VehicleID    int64          `json:"vehicle_id" db:"vehicle_id"`
	UserID       string         `json:"user_id" db:"user_id"`
	ReadingDate  string         `json:"reading_date" db:"reading_date"`
	OdometerKm   float64        `json:"odometer_km" db:"odometer_km"` // 本桶结束时的里程表
	DailyKm      float64        `json:"daily_km" db:"daily_km"`
	LocationName string         `json:"location_name" db:"location_name"`
	Metadata     BucketMetadata `json:"metadata" db:"metadata"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Date 解析 ReadingDate
func (r *MileageReading) Date() (time.Time, error) {
	return time.Parse(DateLayout, r.ReadingDate)
}

// IsSynthetic 是否为补齐的空桶
func (r *MileageReading) IsSynthetic() bool {
	_, ok := r.Metadata.(SyntheticMetadata)
	return ok
}

// MarshalJSON 输出与存储一致的 metadata 结构
func (r MileageReading) MarshalJSON() ([]byte, error) {
	type alias MileageReading
	meta, err := MarshalMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: alias(r), Metadata: meta})
}

// BucketMetadata 日桶元数据：SyntheticMetadata 或 SyncedMetadata
type BucketMetadata interface {
	isBucketMetadata()
}

// SyntheticMetadata 缺口补齐生成的零里程桶
type SyntheticMetadata struct {
	Reason string
}

// SyncedMetadata 由实际同步写入的桶
type SyncedMetadata struct {
	Latitude        *float64
	Longitude       *float64
	LocationName    string
	StartOdometerKm *float64
	EndOdometerKm   *float64
	SyncedAt        time.Time
}

func (SyntheticMetadata) isBucketMetadata() {}
func (SyncedMetadata) isBucketMetadata()    {}

// metadataWire JSONB 存储格式，下游报表直接读取这些字段
type metadataWire struct {
	Synthetic       bool       `json:"synthetic"`
	Reason          string     `json:"reason,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	LocationName    string     `json:"location_name,omitempty"`
	StartOdometerKm *float64   `json:"start_odometer_km,omitempty"`
	EndOdometerKm   *float64   `json:"end_odometer_km,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
}

// MarshalMetadata 序列化元数据；nil 序列化为空对象
func MarshalMetadata(m BucketMetadata) ([]byte, error) {
	var w metadataWire
	switch v := m.(type) {
	case nil:
		return []byte(`{}`), nil
	case SyntheticMetadata:
		w.Synthetic = true
		w.Reason = v.Reason
	case SyncedMetadata:
		w.Latitude = v.Latitude
		w.Longitude = v.Longitude
		w.LocationName = v.LocationName
		w.StartOdometerKm = v.StartOdometerKm
		w.EndOdometerKm = v.EndOdometerKm
		if !v.SyncedAt.IsZero() {
			t := v.SyncedAt.UTC()
			w.SyncedAt = &t
		}
	default:
		return nil, fmt.Errorf("unknown bucket metadata %T", m)
	}
	return json.Marshal(w)
}

// UnmarshalMetadata 反序列化元数据；空值返回 nil
func UnmarshalMetadata(data []byte) (BucketMetadata, error) {
	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil, nil
	}
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode bucket metadata: %w", err)
	}
	if w.Synthetic {
		return SyntheticMetadata{Reason: w.Reason}, nil
	}
	m := SyncedMetadata{
		Latitude:        w.Latitude,
		Longitude:       w.Longitude,
		LocationName:    w.LocationName,
		StartOdometerKm: w.StartOdometerKm,
		EndOdometerKm:   w.EndOdometerKm,
	}
	if w.SyncedAt != nil {
		m.SyncedAt = *w.SyncedAt
	}
	return m, nil
}
