package tesla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 错误定义
var (
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
)

// APIError Tesla 返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tesla api: status=%d body=%s", e.StatusCode, e.Body)
}

// Is 让 errors.Is 按状态码匹配哨兵错误
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrVehicleUnavailable:
		return e.StatusCode == http.StatusRequestTimeout
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Options 客户端配置
type Options struct {
	AuthHost     string
	TokenURL     string
	APIHost      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	Audience     string
}

// Client Tesla Fleet API 客户端，访问令牌按调用传入
type Client struct {
	httpClient *http.Client
	opts       Options
}

// NewClient 创建新的 Tesla API 客户端
func NewClient(opts Options) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		opts: opts,
	}
}

// WithHTTPClient 替换底层 HTTP 客户端
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// HasClientCredentials 是否配置了 client_id / client_secret
func (c *Client) HasClientCredentials() bool {
	return c.opts.ClientID != "" && c.opts.ClientSecret != ""
}

// doRequest 执行带认证的请求
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string) ([]byte, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.APIHost+path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tesmileage/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// apiResponse 通用 API 响应结构
type apiResponse struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error,omitempty"`
}

func decodeResponse(body []byte, out any) error {
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != "" && len(apiResp.Response) == 0 {
		return errors.New(apiResp.Error)
	}
	if err := json.Unmarshal(apiResp.Response, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ListVehicles 获取车辆列表
func (c *Client) ListVehicles(ctx context.Context, accessToken string) ([]Vehicle, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/1/vehicles", accessToken)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	var vehicles []Vehicle
	if err := decodeResponse(body, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// GetVehicle 获取单个车辆信息（不会唤醒车辆）
func (c *Client) GetVehicle(ctx context.Context, accessToken, id string) (*Vehicle, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/1/vehicles/"+url.PathEscape(id), accessToken)
	if err != nil {
		return nil, fmt.Errorf("get vehicle: %w", err)
	}

	var vehicle Vehicle
	if err := decodeResponse(body, &vehicle); err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// GetVehicleData 获取里程、定位所需的车辆数据
func (c *Client) GetVehicleData(ctx context.Context, accessToken, id string) (*VehicleData, error) {
	endpoints := "vehicle_state;drive_state;location_data"
	path := fmt.Sprintf("/api/1/vehicles/%s/vehicle_data?endpoints=%s", url.PathEscape(id), url.QueryEscape(endpoints))

	body, err := c.doRequest(ctx, http.MethodGet, path, accessToken)
	if err != nil {
		return nil, fmt.Errorf("get vehicle data: %w", err)
	}

	var data VehicleData
	if err := decodeResponse(body, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// WakeUp 唤醒车辆
func (c *Client) WakeUp(ctx context.Context, accessToken, id string) error {
	path := fmt.Sprintf("/api/1/vehicles/%s/wake_up", url.PathEscape(id))
	if _, err := c.doRequest(ctx, http.MethodPost, path, accessToken); err != nil {
		return fmt.Errorf("wake up: %w", err)
	}
	return nil
}

// postToken 提交 token 端点表单
func (c *Client) postToken(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	token.CreatedAt = time.Now()
	return &token, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
