package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"          // 429 - too many requests
	ErrorTypeQuotaExceeded      ErrorType = "quota_exceeded"      // usage limit reached
	ErrorTypeInsufficientCredit ErrorType = "insufficient_credit" // 402 - no balance
	ErrorTypeProviderDown       ErrorType = "provider_down"       // 502/503 - upstream issue
	ErrorTypeAuth               ErrorType = "auth"                // 401 - bad API key
	ErrorTypeModeration         ErrorType = "moderation"          // 403 - content flagged
	ErrorTypeUnknown            ErrorType = "unknown"             // Fallback
)

// ErrMissingAPIKey matches every MissingKeyError under errors.Is.
var ErrMissingAPIKey = errors.New("API Key missing")

// MissingKeyError is returned when a turn selects an unconfigured vendor.
type MissingKeyError struct {
	Vendor Vendor
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s API Key missing", e.Vendor.Label())
}

// Is lets errors.Is(err, ErrMissingAPIKey) match.
func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingAPIKey
}

// ProviderError is a structured error returned by vendor clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // vendor key
	Code       string         // Raw error code ("1308", "429")
	Message    string         // Human-readable message
	ResetAt    *time.Time     // When limit resets (if known)
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool           // Should we auto-retry?
}

func (e *ProviderError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("%s: %s (resets at %s)", e.Provider, e.Message, e.ResetAt.Format("15:04:05"))
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// ClassifyStatus maps an HTTP status to an ErrorType.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusPaymentRequired:
		return ErrorTypeInsufficientCredit
	case status == http.StatusUnauthorized:
		return ErrorTypeAuth
	case status == http.StatusForbidden:
		return ErrorTypeModeration
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}

// StatusError builds a ProviderError from a non-2xx response body.
func StatusError(vendor Vendor, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	errType := ClassifyStatus(status)
	pe := NewProviderError(string(vendor), errType, strconv.Itoa(status), fmt.Sprintf("api error %d: %s", status, msg))
	pe.Retryable = errType == ErrorTypeRateLimit || errType == ErrorTypeProviderDown
	return pe
}
