package acquire

import "github.com/shpitdev/docfetch/internal/trace"

// Result is the pipeline output for one email. Success and failure share this shape.
type Result struct {
	MessageID          string        `json:"message_id"`
	Success            bool          `json:"success"`
	Documents          []Document    `json:"documents,omitempty"`
	Lane               Lane          `json:"lane"`
	RequiresEscalation bool          `json:"requires_escalation"`
	EscalationReason   string        `json:"escalation_reason,omitempty"`
	Error              string        `json:"error,omitempty"`
	Decision           LaneDecision  `json:"decision"`
	Trace              []trace.Entry `json:"trace"`
}

// TransientError marks an error as retryable.
//
// Worker pools retry transient failures with backoff instead of failing the item.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
