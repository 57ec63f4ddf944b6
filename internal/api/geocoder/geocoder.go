package geocoder

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langchou/tesmileage/internal/models"
)

// 默认服务地址
const (
	DefaultAmapURL      = "https://restapi.amap.com/v3/geocode/regeo"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
)

// maxCacheEntries 缓存上限，超过后整体清空
const maxCacheEntries = 10000

// provider 单一逆地理编码服务
type provider interface {
	name() string
	reverse(ctx context.Context, lat, lng float64) (*models.Address, error)
}

// Options 客户端配置
type Options struct {
	AmapAPIKey   string
	AmapURL      string
	NominatimURL string
	UserAgent    string
	// Nominatim 两次请求的最小间隔
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// Client 逆地理编码客户端
// 配置了高德 API Key 时使用高德，否则使用 Nominatim
type Client struct {
	provider provider
	logger   *zap.Logger
	group    singleflight.Group

	cacheMu sync.RWMutex
	cache   map[string]*models.Address
}

// NewClient 创建逆地理编码客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}

	var p provider
	if opts.AmapAPIKey != "" {
		u := opts.AmapURL
		if u == "" {
			u = DefaultAmapURL
		}
		p = &amapProvider{baseURL: u, apiKey: opts.AmapAPIKey, http: hc}
	} else {
		u := opts.NominatimURL
		if u == "" {
			u = DefaultNominatimURL
		}
		ua := opts.UserAgent
		if ua == "" {
			ua = "tesmileage/1.0 (daily mileage tracker)"
		}
		interval := opts.MinInterval
		if interval <= 0 {
			interval = time.Second
		}
		p = &nominatimProvider{baseURL: u, userAgent: ua, interval: interval, http: hc}
	}

	return &Client{
		provider: p,
		logger:   logger,
		cache:    make(map[string]*models.Address),
	}
}

// Provider 当前使用的服务
func (c *Client) Provider() string {
	return c.provider.name()
}

// ReverseGeocode 根据经纬度获取结构化地址
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 精确到小数点后 4 位，约 11 米
	key := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	addr, ok := c.cache[key]
	c.cacheMu.RUnlock()
	if ok {
		return addr, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		addr, err := c.provider.reverse(ctx, lat, lng)
		if err != nil {
			return nil, err
		}
		c.store(key, addr)
		c.logger.Debug("Geocoded location",
			zap.String("provider", c.provider.name()),
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.String("address", addr.FormattedAddress),
		)
		return addr, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Address), nil
}

func (c *Client) store(key string, addr *models.Address) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if len(c.cache) >= maxCacheEntries {
		c.cache = make(map[string]*models.Address)
	}
	c.cache[key] = addr
}

// CacheSize 缓存条目数
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}
