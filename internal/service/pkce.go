package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/repository"
)

const (
	stateLength    = 48
	verifierLength = 128
	// 去掉易混淆的 0/O、1/l/I
	pkceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
)

// randomString 使用 crypto/rand 从字母表中均匀取样
func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(pkceAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = pkceAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// CodeChallenge base64url(SHA256(verifier))，无填充
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// PKCEService Tesla 授权码 + PKCE 流程
type PKCEService struct {
	api       OAuthAPI
	states    PKCEStore
	vault     CredentialVault
	directory *VehicleDirectory
	recorder  *Recorder
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPKCEService 创建授权服务
func NewPKCEService(api OAuthAPI, states PKCEStore, vault CredentialVault, directory *VehicleDirectory, recorder *Recorder, ttl time.Duration, logger *zap.Logger) *PKCEService {
	return &PKCEService{
		api:       api,
		states:    states,
		vault:     vault,
		directory: directory,
		recorder:  recorder,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// Begin 生成 state 与 code_verifier，返回授权地址
func (s *PKCEService) Begin(ctx context.Context, userID string) (string, error) {
	state, err := randomString(stateLength)
	if err != nil {
		return "", Wrap(CodeStateGeneration, err)
	}
	verifier, err := randomString(verifierLength)
	if err != nil {
		return "", Wrap(CodeStateGeneration, err)
	}

	now := s.now()
	if err := s.states.Create(ctx, &models.PKCEState{
		State:        state,
		CodeVerifier: verifier,
		UserID:       userID,
		CreatedAt:    now,
	}); err != nil {
		return "", Wrap(CodeStateGeneration, err)
	}

	if n, err := s.states.DeleteOlderThan(ctx, now.Add(-s.ttl)); err != nil {
		s.logger.Warn("Failed to purge expired pkce states", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("Purged expired pkce states", zap.Int64("count", n))
	}

	return s.api.AuthorizeURL(state, CodeChallenge(verifier)), nil
}

// Complete 校验并消费 state，用授权码换取令牌并加密保存
func (s *PKCEService) Complete(ctx context.Context, userID, code, state string) error {
	pending, err := s.states.Consume(ctx, state, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return Wrap(CodeInvalidState, ErrInvalidState)
	}
	if err != nil {
		return err
	}
	if s.now().Sub(pending.CreatedAt) > s.ttl {
		return Wrap(CodeExpiredState, ErrExpiredState)
	}

	token, err := s.api.ExchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		return Wrap(CodeCodeExchangeFailed, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err))
	}

	if err := s.vault.Store(ctx, userID, token.AccessToken, token.RefreshToken, token.ExpiresAt()); err != nil {
		if errors.Is(err, ErrConfiguration) {
			return Wrap(CodeConfiguration, err)
		}
		return Wrap(CodeStoreFailed, err)
	}
	s.recorder.Audit(ctx, userID, models.AuditTeslaConnected, "tesla_credentials", userID, nil)

	if s.directory != nil {
		if _, err := s.directory.Connected(ctx, userID, token.AccessToken); err != nil {
			s.logger.Warn("Failed to sync vehicle list after connect", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}
