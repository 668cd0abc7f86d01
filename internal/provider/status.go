package provider

import (
	"fmt"
	"net/http"
)

// StatusClass はプロバイダAPIのHTTPステータス分類。
type StatusClass int

const (
	// StatusOK は成功（2xx）。
	StatusOK StatusClass = iota
	// StatusPermanent は再試行しても成功しない失敗（認証エラー、存在しないエンドポイント）。
	StatusPermanent
	// StatusRetryable は時間をおけば成功し得る失敗（429/5xx）。
	StatusRetryable
	// StatusUnknown はその他のステータス。
	StatusUnknown
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusPermanent
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return StatusPermanent
	case statusCode == http.StatusTooManyRequests:
		return StatusRetryable
	case statusCode >= 500:
		return StatusRetryable
	default:
		return StatusUnknown
	}
}

// StatusError はプロバイダAPIが非2xxを返した場合のエラー。
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
}

// Retryable は再試行可能な失敗かを返す。
func (e *StatusError) Retryable() bool {
	return ClassifyStatus(e.StatusCode) == StatusRetryable
}
