package vault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/repository"
)

type memStore struct {
	rows      map[string]*models.EncryptedCredentials
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.EncryptedCredentials)}
}

func (m *memStore) Upsert(_ context.Context, c *models.EncryptedCredentials) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *c
	m.rows[c.UserID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, userID string) (*models.EncryptedCredentials, error) {
	c, ok := m.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *memStore) Delete(_ context.Context, userID string) error {
	delete(m.rows, userID)
	return nil
}

func (m *memStore) ListUserIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range m.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

type memLegacy struct {
	rows map[string]*models.LegacyCredentials
}

func (m *memLegacy) GetLegacy(_ context.Context, userID string) (*models.LegacyCredentials, error) {
	c, ok := m.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (m *memLegacy) ClearLegacy(_ context.Context, userID string) error {
	delete(m.rows, userID)
	return nil
}

func (m *memLegacy) ListLegacyUserIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range m.rows {
		ids = append(ids, id)
	}
	return ids, nil
}

func strPtr(s string) *string { return &s }

func TestCipher_RoundTripAndTamper(t *testing.T) {
	c, err := NewCipher("server-secret")
	require.NoError(t, err)

	enc, err := c.Encrypt("access-token")
	require.NoError(t, err)
	assert.NotContains(t, enc, "access-token")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "access-token", plain)

	other, err := NewCipher("another-secret")
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt(strings.Repeat("A", 8))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestCipher_NonceIsRandom(t *testing.T) {
	c, err := NewCipher("server-secret")
	require.NoError(t, err)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestNewCipher_MissingSecret(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestVault_StoreLoadOverwrite(t *testing.T) {
	c, _ := NewCipher("server-secret")
	store := newMemStore()
	v := New(c, store, &memLegacy{rows: map[string]*models.LegacyCredentials{}}, zaptest.NewLogger(t))
	ctx := context.Background()
	exp := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, v.Store(ctx, "u1", "a1", "r1", exp))
	require.NoError(t, v.Store(ctx, "u1", "a2", "r2", exp.Add(time.Hour)))
	assert.Len(t, store.rows, 1)

	creds, err := v.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.AccessToken)
	assert.Equal(t, "r2", creds.RefreshToken)
	assert.Equal(t, exp.Add(time.Hour), creds.ExpiresAt)
}

func TestVault_LoadMigratesLegacy(t *testing.T) {
	c, _ := NewCipher("server-secret")
	store := newMemStore()
	exp := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	legacy := &memLegacy{rows: map[string]*models.LegacyCredentials{
		"u1": {UserID: "u1", AccessToken: strPtr("plain-a"), RefreshToken: strPtr("plain-r"), ExpiresAt: &exp},
	}}
	v := New(c, store, legacy, zaptest.NewLogger(t))

	creds, err := v.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "plain-a", creds.AccessToken)
	require.Contains(t, store.rows, "u1")
	assert.NotEqual(t, "plain-a", store.rows["u1"].AccessTokenEnc)
	assert.Empty(t, legacy.rows)
}

func TestVault_LegacyMigrationFailureStillReturns(t *testing.T) {
	c, _ := NewCipher("server-secret")
	store := newMemStore()
	store.upsertErr = errors.New("db down")
	legacy := &memLegacy{rows: map[string]*models.LegacyCredentials{
		"u1": {UserID: "u1", AccessToken: strPtr("plain-a")},
	}}
	v := New(c, store, legacy, zaptest.NewLogger(t))

	creds, err := v.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "plain-a", creds.AccessToken)
	assert.Contains(t, legacy.rows, "u1")
}

func TestVault_NotConnectedAndConfiguration(t *testing.T) {
	c, _ := NewCipher("server-secret")
	v := New(c, newMemStore(), &memLegacy{rows: map[string]*models.LegacyCredentials{}}, zaptest.NewLogger(t))
	_, err := v.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotConnected)

	unconfigured := New(nil, newMemStore(), nil, zaptest.NewLogger(t))
	_, err = unconfigured.Load(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, unconfigured.Store(context.Background(), "u1", "a", "r", time.Now()), ErrConfiguration)
}

func TestVault_ConnectedUsersAndDelete(t *testing.T) {
	c, _ := NewCipher("server-secret")
	store := newMemStore()
	legacy := &memLegacy{rows: map[string]*models.LegacyCredentials{
		"u2": {UserID: "u2", AccessToken: strPtr("x")},
		"u3": {UserID: "u3", AccessToken: strPtr("y")},
	}}
	v := New(c, store, legacy, zaptest.NewLogger(t))
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "u1", "a", "r", time.Now()))
	require.NoError(t, v.Store(ctx, "u2", "a", "r", time.Now()))

	users, err := v.ConnectedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, users)

	require.NoError(t, v.Delete(ctx, "u2"))
	users, err = v.ConnectedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, users)
	_, err = v.Load(ctx, "u2")
	assert.ErrorIs(t, err, ErrNotConnected)
}
