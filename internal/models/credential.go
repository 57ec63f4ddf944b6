package models

import "time"

// Credentials 解密后的 Tesla 令牌
type Credentials struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin 令牌是否会在 skew 内过期
func (c *Credentials) ExpiresWithin(now time.Time, skew time.Duration) bool {
	return c.ExpiresAt.Sub(now) <= skew
}

// EncryptedCredentials tesla_credentials 表中的一行
type EncryptedCredentials struct {
	UserID          string    `db:"user_id"`
	AccessTokenEnc  string    `db:"access_token_enc"`
	RefreshTokenEnc string    `db:"refresh_token_enc"`
	ExpiresAt       time.Time `db:"expires_at"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// LegacyCredentials profiles 表中遗留的明文令牌
type LegacyCredentials struct {
	UserID       string     `db:"user_id"`
	AccessToken  *string    `db:"tesla_access_token"`
	RefreshToken *string    `db:"tesla_refresh_token"`
	ExpiresAt    *time.Time `db:"tesla_token_expires_at"`
}

// PKCEState 授权流程中的一次性 state
type PKCEState struct {
	State        string    `db:"state"`
	CodeVerifier string    `db:"code_verifier"`
	UserID       string    `db:"user_id"`
	CreatedAt    time.Time `db:"created_at"`
}
