package domain

// Modality is what a model can do.
type Modality string

const (
	ModalityChat      Modality = "chat"
	ModalityEmbedding Modality = "embedding"
)

// Task selects the default model for a generation. Tools and transformation
// fall back to chat when they have no default of their own.
type Task string

const (
	TaskChat           Task = "chat"
	TaskTools          Task = "tools"
	TaskTransformation Task = "transformation"
	TaskLargeContext   Task = "large_context"
	TaskEmbedding      Task = "embedding"
)

// HealthStatus is the last observed state of a model descriptor.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ModelDescriptor is the public view of a registered model.
type ModelDescriptor struct {
	ID            string       `json:"id"`
	Provider      string       `json:"provider"`
	Name          string       `json:"name"`
	Modality      Modality     `json:"modality"`
	ContextWindow int          `json:"context_window,omitempty"`
	Fallback      string       `json:"fallback,omitempty"`
	Health        HealthStatus `json:"health"`
}
