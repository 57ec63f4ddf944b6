package models

import "strings"

// Address 结构化地址信息（用于逆地理编码结果）
type Address struct {
	FormattedAddress string `json:"formatted_address,omitempty"` // 完整格式化地址
	Country          string `json:"country,omitempty"`           // 国家
	Province         string `json:"province,omitempty"`          // 省
	City             string `json:"city,omitempty"`              // 市
	District         string `json:"district,omitempty"`          // 区/县
	Township         string `json:"township,omitempty"`          // 乡镇/街道
	Street           string `json:"street,omitempty"`            // 道路
	StreetNumber     string `json:"street_number,omitempty"`     // 门牌号
}

// Label 日桶 location_name 使用的短地址
func (a *Address) Label() string {
	if a == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{a.City, a.District, a.Street} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return a.FormattedAddress
	}
	return strings.Join(parts, ", ")
}
