package domain

// Stage of the answer pipeline.
type Stage string

const (
	StagePlanning       Stage = "planning"
	StageRetrieving     Stage = "retrieving"
	StageAnswering      Stage = "answering"
	StageFinalSynthesis Stage = "final_synthesis"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// EventType names an event on an answer stream.
type EventType string

const (
	EventStrategy    EventType = "strategy"
	EventAnswer      EventType = "answer"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
)

// Event is one message on an Ask or Chat stream. Exactly one payload field is set.
// Stage is the pipeline stage the event closes.
type Event struct {
	Type     EventType       `json:"type"`
	Stage    Stage           `json:"stage"`
	Strategy *SearchStrategy `json:"strategy,omitempty"`
	Answer   *QueryAnswer    `json:"answer,omitempty"`
	Final    *FinalAnswer    `json:"final,omitempty"`
	Error    *ErrorPayload   `json:"error,omitempty"`
}

// QueryAnswer is the answer to one sub-query.
type QueryAnswer struct {
	Query     SubQuery   `json:"query"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	// NoEvidence is set when retrieval returned nothing above threshold.
	NoEvidence bool   `json:"no_evidence,omitempty"`
	ServedBy   string `json:"served_by,omitempty"`
}

// FinalAnswer is the synthesized answer closing a stream.
type FinalAnswer struct {
	Text      string           `json:"text"`
	Citations []Citation       `json:"citations"`
	ServedBy  string           `json:"served_by,omitempty"`
	Manifest  *ContextManifest `json:"manifest,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Usage     *UsageSnapshot   `json:"usage,omitempty"`
}

// ErrorPayload is the payload of a terminal error event.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
