package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langchou/tesmileage/internal/metrics"
	"github.com/langchou/tesmileage/internal/models"
)

// TokenCache 进程内访问令牌缓存，避免同一次运行中反复解密
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]cachedToken
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// NewTokenCache 创建令牌缓存
func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[string]cachedToken)}
}

// Get 返回距过期仍超过 skew 的令牌
func (c *TokenCache) Get(userID string, now time.Time, skew time.Duration) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || e.expiresAt.Sub(now) <= skew {
		return "", false
	}
	return e.token, true
}

// Put 缓存令牌
func (c *TokenCache) Put(userID, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cachedToken{token: token, expiresAt: expiresAt}
}

// Invalidate 删除用户的缓存令牌
func (c *TokenCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// TokenManager 保证同步使用的访问令牌有效
type TokenManager struct {
	vault    CredentialVault
	api      TokenAPI
	recorder *Recorder
	cache    *TokenCache
	skew     time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(vault CredentialVault, api TokenAPI, recorder *Recorder, skew time.Duration, logger *zap.Logger, m *metrics.Metrics) *TokenManager {
	return &TokenManager{
		vault:    vault,
		api:      api,
		recorder: recorder,
		cache:    NewTokenCache(),
		skew:     skew,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Invalidate 清除用户缓存（断开连接时）
func (m *TokenManager) Invalidate(userID string) {
	m.cache.Invalidate(userID)
}

// EnsureValid 返回可用的访问令牌，必要时刷新
func (m *TokenManager) EnsureValid(ctx context.Context, userID string) (string, error) {
	if token, ok := m.cache.Get(userID, m.now(), m.skew); ok {
		return token, nil
	}

	// 同一用户的并发刷新合并为一次
	v, err, _ := m.group.Do(userID, func() (any, error) {
		return m.ensureValid(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) ensureValid(ctx context.Context, userID string) (string, error) {
	creds, err := m.vault.Load(ctx, userID)
	if err != nil {
		return "", err
	}

	if !creds.ExpiresWithin(m.now(), m.skew) {
		m.cache.Put(userID, creds.AccessToken, creds.ExpiresAt)
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		return "", ErrTokenExpiredNoRefresh
	}
	if !m.api.HasClientCredentials() {
		return "", ErrConfiguration
	}

	refreshed, err := m.refresh(ctx, creds)
	m.metrics.ObserveTokenRefresh(err == nil)
	if err != nil {
		m.logger.Warn("Token refresh failed", zap.String("user_id", userID), zap.Error(err))
		m.recorder.Audit(ctx, userID, models.AuditSyncFailed, "tesla_credentials", userID,
			map[string]string{"reason": "token_refresh_failed"})
		return "", err
	}
	return refreshed, nil
}

func (m *TokenManager) refresh(ctx context.Context, creds *models.Credentials) (string, error) {
	token, err := m.api.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}
	expiresAt := token.ExpiresAt()

	if err := m.vault.Store(ctx, creds.UserID, token.AccessToken, refreshToken, expiresAt); err != nil {
		if errors.Is(err, ErrConfiguration) {
			return "", err
		}
		// 新令牌本次仍可使用；下次加载会再次刷新
		m.logger.Error("Failed to persist refreshed token", zap.String("user_id", creds.UserID), zap.Error(err))
	} else {
		m.recorder.Audit(ctx, creds.UserID, models.AuditTokenRefreshed, "tesla_credentials", creds.UserID,
			map[string]time.Time{"expires_at": expiresAt})
	}

	m.cache.Put(creds.UserID, token.AccessToken, expiresAt)
	m.logger.Info("Tesla token refreshed", zap.String("user_id", creds.UserID), zap.Time("expires_at", expiresAt))
	return token.AccessToken, nil
}
