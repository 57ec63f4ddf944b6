package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLength   = 32 // AES-256
	nonceLength = 12 // GCM 标准 nonce
	hkdfInfo    = "tesmileage/tesla-credentials/v1"
)

var (
	// ErrConfiguration 服务端加密密钥未配置
	ErrConfiguration = errors.New("token encryption key is not configured")
	// ErrDecrypt 密文损坏或密钥不匹配
	ErrDecrypt = errors.New("decrypt credential")
)

// Cipher AES-256-GCM 认证加密，密钥由服务端密钥经 HKDF-SHA256 派生
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 从服务端密钥创建 Cipher
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrConfiguration
	}

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt 返回 base64(nonce || 密文)
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(data) < nonceLength+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, data[:nonceLength], data[nonceLength:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}
