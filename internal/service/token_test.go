package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTokenManager(t *testing.T, vault *memVault, api *fakeTokenAPI) (*TokenManager, *memAudits) {
	audits := &memAudits{}
	rec := NewRecorder(newMemStatuses(), audits, zaptest.NewLogger(t))
	m := NewTokenManager(vault, api, rec, 5*time.Minute, zaptest.NewLogger(t), nil)
	m.now = func() time.Time { return fixedNow }
	return m, audits
}

func TestEnsureValid_FreshTokenUsedAsIs(t *testing.T) {
	vault := newMemVault()
	vault.creds["u1"] = &models.Credentials{UserID: "u1", AccessToken: "access", RefreshToken: "refresh", ExpiresAt: fixedNow.Add(time.Hour)}
	api := &fakeTokenAPI{configured: true}
	m, _ := newTestTokenManager(t, vault, api)

	token, err := m.EnsureValid(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "access", token)
	assert.Zero(t, api.calls)

	// 第二次命中缓存
	_, err = m.EnsureValid(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, vault.loads)
}

func TestEnsureValid_RefreshesNearExpiry(t *testing.T) {
	vault := newMemVault()
	vault.creds["u1"] = &models.Credentials{UserID: "u1", AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: fixedNow.Add(time.Minute)}
	api := &fakeTokenAPI{configured: true, token: &tesla.Token{AccessToken: "new", ExpiresIn: 28800, CreatedAt: fixedNow}}
	m, audits := newTestTokenManager(t, vault, api)

	token, err := m.EnsureValid(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", token)
	assert.Equal(t, "refresh-1", api.lastToken)

	stored := vault.creds["u1"]
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken, "refresh token kept when response omits one")
	assert.Equal(t, fixedNow.Add(8*time.Hour), stored.ExpiresAt)
	assert.Contains(t, audits.actions(), models.AuditTokenRefreshed)
}

func TestEnsureValid_RotatedRefreshToken(t *testing.T) {
	vault := newMemVault()
	vault.creds["u1"] = &models.Credentials{UserID: "u1", AccessToken: "old", RefreshToken: "refresh-1", ExpiresAt: fixedNow.Add(-time.Hour)}
	api := &fakeTokenAPI{configured: true, token: &tesla.Token{AccessToken: "new", RefreshToken: "refresh-2", ExpiresIn: 3600, CreatedAt: fixedNow}}
	m, _ := newTestTokenManager(t, vault, api)

	_, err := m.EnsureValid(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", vault.creds["u1"].RefreshToken)
}

func TestEnsureValid_Failures(t *testing.T) {
	expired := func() *memVault {
		v := newMemVault()
		v.creds["u1"] = &models.Credentials{UserID: "u1", AccessToken: "old", RefreshToken: "refresh", ExpiresAt: fixedNow.Add(-time.Minute)}
		return v
	}

	t.Run("not connected", func(t *testing.T) {
		m, _ := newTestTokenManager(t, newMemVault(), &fakeTokenAPI{configured: true})
		_, err := m.EnsureValid(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("no refresh token", func(t *testing.T) {
		v := expired()
		v.creds["u1"].RefreshToken = ""
		m, _ := newTestTokenManager(t, v, &fakeTokenAPI{configured: true})
		_, err := m.EnsureValid(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrTokenExpiredNoRefresh)
	})

	t.Run("client not configured", func(t *testing.T) {
		m, _ := newTestTokenManager(t, expired(), &fakeTokenAPI{configured: false})
		_, err := m.EnsureValid(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		api := &fakeTokenAPI{configured: true, err: &tesla.APIError{StatusCode: 401, Body: "login_required"}}
		m, audits := newTestTokenManager(t, expired(), api)
		_, err := m.EnsureValid(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.ErrorIs(t, err, tesla.ErrUnauthorized)
		assert.Contains(t, audits.actions(), models.AuditSyncFailed)
	})
}

func TestEnsureValid_StoreFailureStillReturnsToken(t *testing.T) {
	vault := newMemVault()
	vault.creds["u1"] = &models.Credentials{UserID: "u1", AccessToken: "old", RefreshToken: "refresh", ExpiresAt: fixedNow}
	vault.storeErr = errors.New("db down")
	api := &fakeTokenAPI{configured: true, token: &tesla.Token{AccessToken: "new", ExpiresIn: 3600, CreatedAt: fixedNow}}
	m, _ := newTestTokenManager(t, vault, api)

	token, err := m.EnsureValid(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}

func TestTokenCache_RespectsSkew(t *testing.T) {
	c := NewTokenCache()
	c.Put("u1", "tok", fixedNow.Add(10*time.Minute))

	_, ok := c.Get("u1", fixedNow, 5*time.Minute)
	assert.True(t, ok)
	_, ok = c.Get("u1", fixedNow.Add(6*time.Minute), 5*time.Minute)
	assert.False(t, ok)

	c.Invalidate("u1")
	_, ok = c.Get("u1", fixedNow, 0)
	assert.False(t, ok)
}
