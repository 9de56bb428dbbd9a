package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProvider        = errors.New("invalid_provider")
	ErrProviderNotFound       = errors.New("provider_not_found")
	ErrSignatureInvalid       = errors.New("invalid_signature")
	ErrInvalidPayload         = errors.New("invalid_payload")
	ErrInvalidEvent           = errors.New("invalid_event")
	ErrInvalidConfig          = errors.New("invalid_config")
	ErrNoProviderConfigured   = errors.New("no_provider_configured")
	ErrUnsupportedTransaction = errors.New("unsupported_transaction")
	ErrEventNotFound          = errors.New("webhook_event_not_found")
	ErrEventNotReplayable     = errors.New("webhook_event_not_replayable")
	ErrProviderUnchanged      = errors.New("provider_unchanged")
)

// ProviderError is the normalized failure of an outbound provider call.
type ProviderError struct {
	Provider   string
	Operation  string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Code)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}
