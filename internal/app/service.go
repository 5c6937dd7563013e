// Package app wires the acquisition pipeline to its inputs (webhook queue, local files)
// and outputs (document storage, result events).
package app

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/queue"
	"github.com/shpitdev/docfetch/internal/storage"
	"github.com/shpitdev/docfetch/internal/util"
)

// Runner acquires the documents of one email. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.Result
}

// PolicyResolver picks the extraction policy for a sender. *config.PolicySet implements it.
type PolicyResolver interface {
	Resolve(sender string) acquire.ExtractionPolicy
}

// ResultPublisher announces finished emails.
type ResultPublisher interface {
	PublishResult(ctx context.Context, ev queue.ResultEvent) error
}

// Service processes one email end to end: policy, acquisition, storage, result event.
type Service struct {
	Runner   Runner
	Policies PolicyResolver
	// Sink is optional; without it documents are acquired but not persisted.
	Sink    storage.Sink
	Prefix  string
	Results ResultPublisher
	// JobTimeout bounds HandleJob. Zero means no extra bound.
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Outcome is what Process produced for one email.
type Outcome struct {
	Result acquire.Result
	Event  queue.ResultEvent
	// Locations are where each document was stored, in document order.
	Locations []string
}

// Process runs the pipeline for email. The returned error covers infrastructure failures
// only (storage, result publishing); acquisition failures are described by the Result.
func (s *Service) Process(ctx context.Context, email *acquire.InboundEmail) (Outcome, error) {
	if s.Runner == nil {
		return Outcome{}, eris.New("service has no runner")
	}
	log := logging.OrNop(s.Logger).With(zap.String("message_id", email.MessageID))

	policy := acquire.DefaultPolicy()
	if s.Policies != nil {
		policy = s.Policies.Resolve(email.Sender())
	}

	start := time.Now()
	res := s.Runner.Run(ctx, email, policy)

	locs, err := storage.StoreAll(ctx, s.Sink, s.Prefix, res)
	if err != nil {
		return Outcome{Result: res, Locations: locs}, &acquire.TransientError{Err: err}
	}

	out := Outcome{Result: res, Locations: locs, Event: s.event(email, res, locs)}
	if s.Results != nil {
		if err := s.Results.PublishResult(ctx, out.Event); err != nil {
			return out, &acquire.TransientError{Err: eris.Wrap(err, "publish result")}
		}
	}

	fields := []zap.Field{
		zap.String("sender", email.Sender()),
		zap.Bool("success", res.Success),
		zap.String("lane", string(res.Lane)),
		zap.Int("documents", len(res.Documents)),
		zap.Duration("duration", time.Since(start)),
	}
	if res.Success {
		log.Info("email processed", fields...)
	} else {
		fields = append(fields,
			zap.Bool("requires_escalation", res.RequiresEscalation),
			zap.String("error", util.RedactSecrets(res.Error)),
		)
		log.Warn("email not acquired", fields...)
	}
	return out, nil
}

func (s *Service) event(email *acquire.InboundEmail, res acquire.Result, locs []string) queue.ResultEvent {
	docs := make([]queue.StoredDocument, 0, len(res.Documents))
	for i, d := range res.Documents {
		sd := queue.StoredDocument{
			Name:      d.Name,
			SourceURL: util.RedactSecrets(d.SourceURL),
			Size:      d.Size(),
		}
		if i < len(locs) {
			sd.Key = storage.Key(s.Prefix, res.MessageID, d.Name)
			sd.Location = locs[i]
		}
		docs = append(docs, sd)
	}
	return queue.ResultEvent{
		MessageID:          res.MessageID,
		Sender:             email.Sender(),
		Success:            res.Success,
		Lane:               res.Lane,
		Documents:          docs,
		RequiresEscalation: res.RequiresEscalation,
		EscalationReason:   util.RedactSecrets(res.EscalationReason),
		Error:              util.RedactSecrets(res.Error),
		Trace:              res.Trace,
	}
}

// HandleJob adapts Process to the queue consumer. Jobs whose email cannot be processed
// at all are marked permanent so they are not redelivered.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	if strings.TrimSpace(job.Email.MessageID) == "" || job.Email.Sender() == "" {
		return &queue.PermanentError{Err: eris.New("job email lacks message id or sender")}
	}
	if s.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.JobTimeout)
		defer cancel()
	}
	logging.OrNop(s.Logger).Debug("job received",
		zap.String("job_id", job.ID),
		zap.String("message_id", job.Email.MessageID),
		zap.Duration("queued_for", time.Since(job.ReceivedAt)),
	)
	email := job.Email
	_, err := s.Process(ctx, &email)
	return err
}
