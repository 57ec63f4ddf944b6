package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/langchou/tesmileage/internal/models"
)

type nominatimProvider struct {
	baseURL   string
	userAgent string
	interval  time.Duration
	http      *http.Client

	mu   sync.Mutex
	last time.Time
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road    string `json:"road"`
		Suburb  string `json:"suburb"`
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

func (p *nominatimProvider) name() string { return "nominatim" }

// throttle Nominatim 使用政策要求每秒最多 1 次
func (p *nominatimProvider) throttle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wait := p.interval - time.Since(p.last); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	p.last = time.Now()
	return nil
}

func (p *nominatimProvider) reverse(ctx context.Context, lat, lng float64) (*models.Address, error) {
	if err := p.throttle(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))
	q.Set("format", "json")
	q.Set("accept-language", "zh-CN")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim api returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// 城市可能在 city/town/village 中
	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}

	return &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		Province:         result.Address.State,
		City:             city,
		District:         result.Address.County,
		Township:         result.Address.Suburb,
		Street:           result.Address.Road,
	}, nil
}
