package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderUnavailable signals that every candidate model for a modality failed.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderTimeout signals a model call that exceeded its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrRateLimited signals a rate limit hit (local token bucket or upstream 429).
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderError signals a hard provider failure.
	ErrProviderError = errors.New("provider error")
	// ErrBudgetExceeded signals an exhausted token budget.
	ErrBudgetExceeded = errors.New("token budget exceeded")
	// ErrModelNotFound signals an unknown model descriptor id.
	ErrModelNotFound = errors.New("model not found")
	// ErrUnsupportedModality signals a provider asked for a modality it lacks.
	ErrUnsupportedModality = errors.New("unsupported modality")
	// ErrIngestQueueFull signals that the ingestion queue cannot accept more work.
	ErrIngestQueueFull = errors.New("ingest queue full")
)

// ErrorKind is the wire name of an error carried by an error event.
type ErrorKind string

const (
	// KindProviderUnavailable means no model could serve the request.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	// KindProviderTimeout means the model call timed out.
	KindProviderTimeout ErrorKind = "provider_timeout"
	// KindInvalidRequest means the request was rejected before any work.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindNotFound means a referenced resource does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindCanceled means the caller went away.
	KindCanceled ErrorKind = "canceled"
	// KindInternal is everything else.
	KindInternal ErrorKind = "internal"
)

// KindOf classifies err. ProviderUnavailable wins over ProviderTimeout because
// a timeout that survived the fallback is reported as unavailability.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrProviderTimeout):
		return KindProviderTimeout
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrModelNotFound):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}
