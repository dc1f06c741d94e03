package models

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message         string `json:"message"`
	SessionID       string `json:"sessionId"`
	IncludeMetadata bool   `json:"includeMetadata,omitempty"`
}

// Stream event kinds. A /chat response is a sequence of progress events
// terminated by exactly one final event (unless the client disconnects).
const (
	EventKindProgress = "progress"
	EventKindAnswer   = "answer"
	EventKindError    = "error"
)

// ChatEvent is one JSON-encoded frame on the /chat stream.
type ChatEvent struct {
	Kind     string        `json:"kind"`
	Final    bool          `json:"final"`
	Stage    string        `json:"stage,omitempty"`    // progress: stage that just ran
	Message  string        `json:"message,omitempty"`  // progress: human-readable hint
	Response string        `json:"response,omitempty"` // final: formatted answer
	Metadata *ChatMetadata `json:"metadata,omitempty"`
}

// ChatMetadata is attached to the final event when the client asked for it.
type ChatMetadata struct {
	Intent           Intent          `json:"intent,omitempty"`
	Confidence       float64         `json:"confidence,omitempty"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Service          string          `json:"service"`
	TokenUsage       *LedgerSnapshot `json:"token_usage,omitempty"`
	Cached           bool            `json:"cached,omitempty"`
	Degraded         bool            `json:"degraded,omitempty"`
	DegradedReasons  []string        `json:"degraded_reasons,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
}
