package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Token error codes as persisted on failed records and user profiles.
const (
	CodeTokenInvalid       = "messaging/invalid-registration-token"
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
)

// ProviderError classifies push delivery failures.
type ProviderError struct {
	Code         string
	Message      string
	TokenInvalid bool
	Transient    bool
	Cause        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTokenInvalid reports whether the target token is dead and should be
// cleared from the recipient's profile.
func IsTokenInvalid(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.TokenInvalid
	}
	return false
}

// ErrorCode returns the provider error code, or "" for unclassified errors.
func ErrorCode(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code
	}
	return ""
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
