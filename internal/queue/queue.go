// Package queue carries inbound emails from the webhook to the workers and publishes
// acquisition results.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/trace"
)

const (
	SubjectInbound = "docfetch.inbound"
	subjectResults = "docfetch.results"
)

// ResultSubject is docfetch.results.ok or docfetch.results.failed.
func ResultSubject(success bool) string {
	if success {
		return subjectResults + ".ok"
	}
	return subjectResults + ".failed"
}

// Job is the queued unit of work.
type Job struct {
	ID         string               `json:"id"`
	Email      acquire.InboundEmail `json:"email"`
	ReceivedAt time.Time            `json:"received_at"`
}

// StoredDocument describes one stored document in a ResultEvent.
type StoredDocument struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	Location  string `json:"location,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Size      int    `json:"size"`
}

// ResultEvent is published once per processed email.
type ResultEvent struct {
	MessageID          string           `json:"message_id"`
	Sender             string           `json:"sender"`
	Success            bool             `json:"success"`
	Lane               acquire.Lane     `json:"lane"`
	Documents          []StoredDocument `json:"documents"`
	RequiresEscalation bool             `json:"requires_escalation"`
	EscalationReason   string           `json:"escalation_reason,omitempty"`
	Error              string           `json:"error,omitempty"`
	Trace              []trace.Entry    `json:"trace"`
}

// Publisher is the producer side used by the webhook and the workers.
type Publisher interface {
	PublishJob(ctx context.Context, job Job) error
	PublishResult(ctx context.Context, ev ResultEvent) error
}

// Handler processes one job. Returning an error asks for redelivery.
type Handler func(ctx context.Context, job Job) error

// DecodeJob parses a queued job and checks it carries an email.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, eris.Wrap(err, "decode job")
	}
	if job.Email.MessageID == "" {
		return Job{}, eris.New("job without message id")
	}
	return job, nil
}

// PermanentError marks a job that must not be redelivered.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
