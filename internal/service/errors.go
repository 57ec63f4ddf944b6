package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/langchou/tesmileage/internal/api/tesla"
	"github.com/langchou/tesmileage/internal/vault"
)

// 同步与授权流程中的哨兵错误
var (
	ErrConfiguration         = vault.ErrConfiguration
	ErrNotConnected          = vault.ErrNotConnected
	ErrTokenExpiredNoRefresh = errors.New("tesla token expired and no refresh token is available")
	ErrRefreshFailed         = errors.New("tesla token refresh failed")
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrExpiredState          = errors.New("oauth state expired")
	ErrTokenExchangeFailed   = errors.New("tesla token exchange failed")
	ErrSyncInProgress        = errors.New("sync already in progress")
	ErrVehicleNotFound       = errors.New("vehicle not found")
)

// ErrorCode OAuth 流程错误码
type ErrorCode string

const (
	CodeConfiguration      ErrorCode = "configuration"
	CodeStateGeneration    ErrorCode = "state_generation_failed"
	CodeInvalidState       ErrorCode = "invalid_state"
	CodeExpiredState       ErrorCode = "expired_state"
	CodeCodeExchangeFailed ErrorCode = "code_exchange_failed"
	CodeStoreFailed        ErrorCode = "store_failed"
)

// Error 带错误码的 OAuth 流程错误
type Error struct {
	Code  ErrorCode
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("tesla oauth: %s", e.Code)
	}
	return fmt.Sprintf("tesla oauth: %s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Wrap 为错误附加错误码
func Wrap(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Cause: err}
}

// CodeOf 取出错误码
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// UserMessage 面向用户的错误说明
func UserMessage(err error) string {
	code, ok := CodeOf(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch code {
	case CodeConfiguration:
		return "Tesla integration is not configured on the server."
	case CodeStateGeneration:
		return "Could not start the Tesla authorization. Please try again."
	case CodeInvalidState:
		return "This authorization link was already used or is invalid. Please connect your Tesla account again."
	case CodeExpiredState:
		return "This authorization link has expired. Please connect your Tesla account again."
	case CodeCodeExchangeFailed:
		var apiErr *tesla.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
				return "Tesla is temporarily unavailable. Please try again later."
			}
			return fmt.Sprintf("Tesla rejected the authorization (status %d). Please connect your Tesla account again.", apiErr.StatusCode)
		}
		return "Could not exchange the Tesla authorization code. Please try again."
	case CodeStoreFailed:
		return "Your Tesla account was authorized but could not be saved. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
