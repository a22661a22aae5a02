package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ReasonCode is the machine-readable cause attached to every validation
// rejection. Codes are stable: callers branch on them.
type ReasonCode string

const (
	ReasonMissingKey              ReasonCode = "MissingKey"
	ReasonInvalidKeyFormat        ReasonCode = "InvalidKeyFormat"
	ReasonMalformedKey            ReasonCode = "MalformedKey"
	ReasonInvalidEnvironment      ReasonCode = "InvalidEnvironment"
	ReasonKeyNotFound             ReasonCode = "KeyNotFound"
	ReasonInactiveKey             ReasonCode = "InactiveKey"
	ReasonExpiredKey              ReasonCode = "ExpiredKey"
	ReasonInsufficientPermissions ReasonCode = "InsufficientPermissions"
	ReasonRateLimitExceeded       ReasonCode = "RateLimitExceeded"
	ReasonInsufficientScope       ReasonCode = "InsufficientScope"
	ReasonInternal                ReasonCode = "InternalError"
)

// Store-level sentinel errors.
var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrKeyLimitExceeded = errors.New("api key limit exceeded for tenant")
	ErrImmutableStatus  = errors.New("revoked status is terminal")
)

// ValidationError is a request rejection with its reason code, HTTP status
// class and, for rate limiting, a retry hint.
type ValidationError struct {
	Code              ReasonCode `json:"code"`
	Message           string     `json:"message"`
	StatusCode        int        `json:"-"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	Cause             error      `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status class for the rejection.
func (e *ValidationError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Code {
	case ReasonMissingKey, ReasonInvalidKeyFormat, ReasonMalformedKey,
		ReasonInvalidEnvironment, ReasonKeyNotFound, ReasonInactiveKey, ReasonExpiredKey:
		return http.StatusUnauthorized
	case ReasonInsufficientPermissions, ReasonInsufficientScope:
		return http.StatusForbidden
	case ReasonRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError builds a rejection with the default status for its code.
func NewValidationError(code ReasonCode, message string) *ValidationError {
	e := &ValidationError{Code: code, Message: message}
	e.StatusCode = e.GetStatusCode()
	return e
}

// NewInternalError wraps an internal fault without exposing its cause text.
func NewInternalError(cause error) *ValidationError {
	return &ValidationError{
		Code:       ReasonInternal,
		Message:    "internal error",
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// SanitizeError strips internal causes before an error crosses the API
// boundary. Unknown errors collapse to a generic internal rejection.
func SanitizeError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{
			Code:              ve.Code,
			Message:           ve.Message,
			StatusCode:        ve.GetStatusCode(),
			RetryAfterSeconds: ve.RetryAfterSeconds,
		}
	}
	return NewInternalError(err)
}
