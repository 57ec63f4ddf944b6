package service

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/metrics"
)

var (
	errWakeTimeout = errors.New("vehicle could not wake")

	offlinePattern = regexp.MustCompile(`(?i)vehicle unavailable|asleep|offline|timeout|could not wake`)
)

// FetchResult 数据拉取结果
type FetchResult struct {
	Success   bool
	Data      *tesla.VehicleData
	IsOffline bool
	Attempts  int
	Err       error
}

// IsOfflineError 判断错误是否表示车辆离线或休眠
func IsOfflineError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *tesla.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout {
			return true
		}
	}
	return offlinePattern.MatchString(err.Error())
}

// Fetcher 带固定间隔重试的车辆数据拉取
type Fetcher struct {
	api         VehicleAPI
	maxAttempts int
	delay       time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewFetcher 创建拉取器
func NewFetcher(api VehicleAPI, maxAttempts int, delay time.Duration, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Fetcher{
		api:         api,
		maxAttempts: maxAttempts,
		delay:       delay,
		logger:      logger,
		metrics:     m,
	}
}

// FetchVehicleData 拉取车辆数据；所有失败都会重试，返回最后一次的结果
func (f *Fetcher) FetchVehicleData(ctx context.Context, remoteID, accessToken string) FetchResult {
	var result FetchResult
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		data, err := f.api.GetVehicleData(ctx, accessToken, remoteID)
		result = FetchResult{Attempts: attempt}
		if err == nil {
			f.metrics.ObserveFetchAttempt("ok")
			result.Success = true
			result.Data = data
			return result
		}

		result.Err = err
		result.IsOffline = IsOfflineError(err)
		if result.IsOffline {
			f.metrics.ObserveFetchAttempt("offline")
		} else {
			f.metrics.ObserveFetchAttempt("error")
		}
		f.logger.Debug("Vehicle data fetch failed",
			zap.String("tesla_vehicle_id", remoteID),
			zap.Int("attempt", attempt),
			zap.Bool("offline", result.IsOffline),
			zap.Error(err),
		)

		if attempt == f.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(f.delay):
		}
	}
	return result
}
