package askdex

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kailas-cloud/askdex/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound            = domain.ErrNotFound
	ErrInvalidInput        = domain.ErrInvalidInput
	ErrModelNotFound       = domain.ErrModelNotFound
	ErrRateLimited         = domain.ErrRateLimited
	ErrBudgetExceeded      = domain.ErrBudgetExceeded
	ErrProviderError       = domain.ErrProviderError
	ErrProviderUnavailable = domain.ErrProviderUnavailable
	ErrProviderTimeout     = domain.ErrProviderTimeout
	ErrIngestQueueFull     = domain.ErrIngestQueueFull

	// ErrUnauthorized means the API key is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
)

// codeSentinels maps server error codes to sentinels.
var codeSentinels = map[string]error{
	"not_found":            ErrNotFound,
	"validation_failed":    ErrInvalidInput,
	"bad_request":          ErrInvalidInput,
	"model_not_found":      ErrModelNotFound,
	"rate_limited":         ErrRateLimited,
	"budget_exceeded":      ErrBudgetExceeded,
	"provider_error":       ErrProviderError,
	"provider_unavailable": ErrProviderUnavailable,
	"provider_timeout":     ErrProviderTimeout,
	"ingest_queue_full":    ErrIngestQueueFull,
	"unauthorized":         ErrUnauthorized,
}

// kindSentinels maps stream error kinds to sentinels.
var kindSentinels = map[domain.ErrorKind]error{
	domain.KindProviderUnavailable: ErrProviderUnavailable,
	domain.KindProviderTimeout:     ErrProviderTimeout,
	domain.KindInvalidRequest:      ErrInvalidInput,
	domain.KindNotFound:            ErrNotFound,
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("askdex: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap exposes the matching sentinel error.
func (e *APIError) Unwrap() error {
	if s, ok := codeSentinels[e.Code]; ok {
		return s
	}
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// StreamError is a terminal error event received on a stream.
type StreamError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("askdex: stream failed in %s (%s): %s", e.Stage, e.Kind, e.Message)
}

// Unwrap exposes the matching sentinel error.
func (e *StreamError) Unwrap() error {
	return kindSentinels[e.Kind]
}
