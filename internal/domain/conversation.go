package domain

import "time"

// Turn is one persisted chat exchange.
type Turn struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	ServedBy  string `json:"served_by,omitempty"`

	// ModelOverride is the model the caller pinned for this exchange.
	ModelOverride string `json:"model_override,omitempty"`

	// Items and Citations are recorded on assistant turns.
	Items     ContextSelection `json:"context_items,omitempty"`
	Citations []Citation       `json:"citations,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
