package health

import "context"

// Pinger checks a storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker reports whether the default chat and embedding models can serve.
type ModelChecker interface {
	HealthCheck(ctx context.Context) error
}
