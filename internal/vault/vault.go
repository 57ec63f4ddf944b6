package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/repository"
)

// ErrNotConnected 用户没有任何可用的 Tesla 凭据
var ErrNotConnected = errors.New("tesla account not connected")

// CredentialStore 加密凭据存储（第一层）
type CredentialStore interface {
	Upsert(ctx context.Context, c *models.EncryptedCredentials) error
	Get(ctx context.Context, userID string) (*models.EncryptedCredentials, error)
	Delete(ctx context.Context, userID string) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// LegacyStore 遗留明文凭据（第二层）
type LegacyStore interface {
	GetLegacy(ctx context.Context, userID string) (*models.LegacyCredentials, error)
	ClearLegacy(ctx context.Context, userID string) error
	ListLegacyUserIDs(ctx context.Context) ([]string, error)
}

// Vault 两层凭据仓库：加密层优先，遗留明文层命中时迁移
type Vault struct {
	cipher *Cipher
	store  CredentialStore
	legacy LegacyStore
	logger *zap.Logger
}

// New 创建 Vault；cipher 为 nil 时所有读写返回 ErrConfiguration
func New(cipher *Cipher, store CredentialStore, legacy LegacyStore, logger *zap.Logger) *Vault {
	return &Vault{
		cipher: cipher,
		store:  store,
		legacy: legacy,
		logger: logger,
	}
}

// Store 加密并覆盖用户的凭据
func (v *Vault) Store(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	if v.cipher == nil {
		return ErrConfiguration
	}
	accessEnc, err := v.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := v.cipher.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	return v.store.Upsert(ctx, &models.EncryptedCredentials{
		UserID:          userID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       expiresAt,
	})
}

// Load 读取凭据：加密层 → 遗留层（命中后迁移）→ ErrNotConnected
func (v *Vault) Load(ctx context.Context, userID string) (*models.Credentials, error) {
	if v.cipher == nil {
		return nil, ErrConfiguration
	}

	enc, err := v.store.Get(ctx, userID)
	switch {
	case err == nil:
		creds, derr := v.decrypt(enc)
		if derr == nil {
			return creds, nil
		}
		v.logger.Warn("Encrypted credentials unreadable, trying legacy tier",
			zap.String("user_id", userID), zap.Error(derr))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return v.loadLegacy(ctx, userID)
}

func (v *Vault) decrypt(enc *models.EncryptedCredentials) (*models.Credentials, error) {
	access, err := v.cipher.Decrypt(enc.AccessTokenEnc)
	if err != nil {
		return nil, err
	}
	refresh, err := v.cipher.Decrypt(enc.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	return &models.Credentials{
		UserID:       enc.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    enc.ExpiresAt,
	}, nil
}

func (v *Vault) loadLegacy(ctx context.Context, userID string) (*models.Credentials, error) {
	if v.legacy == nil {
		return nil, ErrNotConnected
	}
	old, err := v.legacy.GetLegacy(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	if old.AccessToken == nil || *old.AccessToken == "" {
		return nil, ErrNotConnected
	}

	creds := &models.Credentials{UserID: userID, AccessToken: *old.AccessToken}
	if old.RefreshToken != nil {
		creds.RefreshToken = *old.RefreshToken
	}
	if old.ExpiresAt != nil {
		creds.ExpiresAt = *old.ExpiresAt
	}

	// 迁移到加密层；失败时仍返回明文凭据
	if err := v.Store(ctx, userID, creds.AccessToken, creds.RefreshToken, creds.ExpiresAt); err != nil {
		v.logger.Warn("Failed to migrate legacy credentials", zap.String("user_id", userID), zap.Error(err))
		return creds, nil
	}
	if err := v.legacy.ClearLegacy(ctx, userID); err != nil {
		v.logger.Warn("Failed to clear legacy credentials", zap.String("user_id", userID), zap.Error(err))
	} else {
		v.logger.Info("Migrated legacy credentials", zap.String("user_id", userID))
	}
	return creds, nil
}

// Delete 删除两层中的凭据
func (v *Vault) Delete(ctx context.Context, userID string) error {
	if err := v.store.Delete(ctx, userID); err != nil {
		return err
	}
	if v.legacy != nil {
		if err := v.legacy.ClearLegacy(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// ConnectedUsers 两层中持有凭据的用户并集
func (v *Vault) ConnectedUsers(ctx context.Context) ([]string, error) {
	ids, err := v.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	if v.legacy != nil {
		legacyIDs, err := v.legacy.ListLegacyUserIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range legacyIDs {
			seen[id] = struct{}{}
		}
	}

	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}
