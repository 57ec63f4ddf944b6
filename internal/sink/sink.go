package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/metrics"
)

// Trip 一次结算出的日行程，追加到外部表格
type Trip struct {
	UserID          string  `json:"user_id"`
	VehicleID       int64   `json:"vehicle_id"`
	VIN             string  `json:"vin,omitempty"`
	Date            string  `json:"date"`
	DistanceKm      float64 `json:"distance_km"`
	StartOdometerKm float64 `json:"start_odometer_km"`
	EndOdometerKm   float64 `json:"end_odometer_km"`
	LocationName    string  `json:"location_name,omitempty"`
}

const breakerName = "trip-sink"

// Webhook 通过熔断器保护的 HTTP 行程外发；失败只记录日志
type Webhook struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewWebhook 创建行程外发
func NewWebhook(url string, logger *zap.Logger, m *metrics.Metrics) *Webhook {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, stateToFloat(to))
		},
	}
	m.SetBreakerState(breakerName, 0)

	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:     logger,
		metrics:    m,
	}
}

// Append 外发一次行程，不返回错误
func (w *Webhook) Append(ctx context.Context, trip Trip) {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, trip)
	})
	w.metrics.ObserveTrip(err == nil)
	if err != nil {
		w.logger.Warn("Failed to append trip",
			zap.String("user_id", trip.UserID),
			zap.Int64("vehicle_id", trip.VehicleID),
			zap.String("date", trip.Date),
			zap.Error(err),
		)
	}
}

// State 当前熔断器状态
func (w *Webhook) State() gobreaker.State {
	return w.breaker.State()
}

func (w *Webhook) post(ctx context.Context, trip Trip) error {
	body, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("marshal trip: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trip sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Discard 未配置外发时使用
type Discard struct{}

// Append 丢弃行程
func (Discard) Append(context.Context, Trip) {}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
