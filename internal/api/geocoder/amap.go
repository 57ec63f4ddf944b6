package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/langchou/tesmileage/internal/models"
)

type amapProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// amapResponse 高德逆地理编码响应
type amapResponse struct {
	Status    string `json:"status"` // "1" 成功
	Info      string `json:"info"`
	InfoCode  string `json:"infocode"`
	Regeocode *struct {
		FormattedAddress string `json:"formatted_address"`
		AddressComponent struct {
			Country      string      `json:"country"`
			Province     string      `json:"province"`
			City         interface{} `json:"city"` // 可能为空数组 []
			District     interface{} `json:"district"`
			Township     interface{} `json:"township"`
			Street       interface{} `json:"street"`
			StreetNumber interface{} `json:"streetNumber"`
		} `json:"addressComponent"`
	} `json:"regeocode"`
}

func (p *amapProvider) name() string { return "amap" }

func (p *amapProvider) reverse(ctx context.Context, lat, lng float64) (*models.Address, error) {
	q := url.Values{}
	q.Set("key", p.apiKey)
	// 经度在前
	q.Set("location", fmt.Sprintf("%.6f,%.6f", lng, lat))
	q.Set("extensions", "base")
	q.Set("output", "JSON")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amap api returned status %d", resp.StatusCode)
	}

	var result amapResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Status != "1" {
		return nil, fmt.Errorf("amap api error: %s (code: %s)", result.Info, result.InfoCode)
	}
	if result.Regeocode == nil {
		return nil, errors.New("no regeocode result")
	}

	comp := result.Regeocode.AddressComponent
	return &models.Address{
		FormattedAddress: result.Regeocode.FormattedAddress,
		Country:          comp.Country,
		Province:         comp.Province,
		City:             asString(comp.City),
		District:         asString(comp.District),
		Township:         asString(comp.Township),
		Street:           asString(comp.Street),
		StreetNumber:     asString(comp.StreetNumber),
	}, nil
}

// asString 高德空字段返回 [] 而不是 ""
func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
