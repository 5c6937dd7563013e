// Package orchestrator runs the decision matrix and the lane escalation chain for one
// email.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/links"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/metrics"
	"github.com/shpitdev/docfetch/internal/trace"
	"github.com/shpitdev/docfetch/internal/util"
)

// DefaultMaxHops bounds the number of lane dispatches per email.
const DefaultMaxHops = 4

// Decider picks the first lane. *decision.Matrix implements it.
type Decider interface {
	Decide(ctx context.Context, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.LaneDecision
}

// successors lists where each lane may escalate to, preferred first.
var successors = map[acquire.Lane][]acquire.Lane{
	acquire.LaneDirect:      {acquire.LaneInteractive, acquire.LaneAgentic},
	acquire.LaneInteractive: {acquire.LaneAgentic},
}

type Orchestrator struct {
	decider Decider
	lanes   map[acquire.Lane]acquire.Handler
	logger  *zap.Logger
	now     func() time.Time
	maxHops int
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = logging.OrNop(l) } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithMaxHops(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxHops = n
		}
	}
}

// New wires a decider to lane handlers. Lanes without a handler are treated as
// unavailable escalation targets.
func New(decider Decider, lanes map[acquire.Lane]acquire.Handler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		decider: decider,
		lanes:   make(map[acquire.Lane]acquire.Handler, len(lanes)),
		logger:  zap.NewNop(),
		now:     time.Now,
		maxHops: DefaultMaxHops,
	}
	for l, h := range lanes {
		if h != nil {
			o.lanes[l] = h
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run acquires the documents of one email. It never returns an error: every failure is
// described by the Result, whose trace covers every lane that ran.
func (o *Orchestrator) Run(ctx context.Context, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.Result {
	start := o.now()
	rec := trace.NewRecorderWithClock(o.now)
	log := o.logger.With(zap.String("run_id", uuid.NewString()))
	if email != nil {
		log = log.With(zap.String("message_id", email.MessageID))
	}

	res := o.run(ctx, rec, log, email, policy)
	res.Trace = rec.Entries()
	if email != nil {
		res.MessageID = email.MessageID
	}

	status := "failed"
	if res.Success {
		status = "ok"
	}
	metrics.Runs.WithLabelValues(string(res.Lane), status).Inc()
	metrics.RunDuration.Observe(o.now().Sub(start).Seconds())
	if res.Success {
		log.Info("documents acquired", zap.String("lane", string(res.Lane)), zap.Int("documents", len(res.Documents)))
	} else {
		log.Warn("acquisition failed",
			zap.String("lane", string(res.Lane)),
			zap.Bool("requires_escalation", res.RequiresEscalation),
			zap.String("error", res.Error),
		)
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, rec *trace.Recorder, log *zap.Logger, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.Result {
	if email == nil {
		rec.Add("error", map[string]any{"error": "no email"})
		return acquire.Result{Lane: acquire.LaneUnknown, Error: "no email"}
	}
	if o.decider == nil {
		rec.Add("error", map[string]any{"error": "no decision matrix configured"})
		return acquire.Result{Lane: acquire.LaneUnknown, Error: "no decision matrix configured"}
	}

	d := o.decider.Decide(ctx, email, policy)
	rec.Add("decision", map[string]any{
		"lane":       string(d.Lane),
		"reason":     d.Reason,
		"confidence": d.Confidence,
		"links":      len(d.Links),
		"candidates": len(d.Candidates),
		"classifier": d.ClassifierMethod,
	})
	out := acquire.Result{Lane: d.Lane, Decision: d}

	lane := d.Lane
	if !lane.Dispatchable() {
		out.Error = d.Reason
		if out.Error == "" {
			out.Error = "no acquisition lane applies"
		}
		return out
	}
	if lane == acquire.LaneInteractive && policy.Portal.Backend == acquire.BackendAgentic {
		lane = acquire.LaneAgentic
	}

	req := acquire.Request{Email: email, Policy: policy, Decision: d}
	visited := make(map[acquire.Lane]bool)
	var lastReason string

	for hop := 0; ; hop++ {
		if hop >= o.maxHops {
			return o.failure(out, lane, eris.Errorf("escalation limit of %d lanes reached", o.maxHops), lastReason)
		}
		h, ok := o.lanes[lane]
		if !ok {
			return o.failure(out, lane, eris.Errorf("no handler for lane %s", lane), lastReason)
		}
		visited[lane] = true
		out.Lane = lane

		if err := ctx.Err(); err != nil {
			rec.Add("aborted", map[string]any{"lane": string(lane), "error": err.Error()})
			return o.failure(out, lane, err, lastReason)
		}

		began := o.now()
		lr := h.Run(ctx, req)
		metrics.LaneDuration.WithLabelValues(string(lane)).Observe(o.now().Sub(began).Seconds())
		rec.Append(lr.Trace...)

		switch oc := lr.Outcome.(type) {
		case acquire.Success:
			metrics.LaneAttempts.WithLabelValues(string(lane), "success").Inc()
			if len(oc.Documents) == 0 {
				return o.failure(out, lane, eris.Errorf("lane %s reported success without documents", lane), lastReason)
			}
			metrics.DocumentsAcquired.WithLabelValues(string(lane)).Add(float64(len(oc.Documents)))
			out.Success = true
			out.Documents = oc.Documents
			out.RequiresEscalation = false
			out.EscalationReason = lastReason
			return out

		case acquire.Escalate:
			metrics.LaneAttempts.WithLabelValues(string(lane), "escalate").Inc()
			lastReason = oc.Reason
			next, target := o.next(lane, oc, req, policy, visited)
			if next == "" {
				rec.Add("escalation_exhausted", map[string]any{"lane": string(lane), "reason": util.RedactSecrets(oc.Reason)})
				out.RequiresEscalation = true
				out.EscalationReason = oc.Reason
				out.Error = oc.Reason
				return out
			}
			rec.Add("escalate", map[string]any{
				"from":   string(lane),
				"to":     string(next),
				"reason": util.RedactSecrets(oc.Reason),
				"target": util.RedactSecrets(target),
			})
			metrics.Escalations.WithLabelValues(string(lane), string(next)).Inc()
			log.Info("escalating", zap.String("from", string(lane)), zap.String("to", string(next)), zap.String("reason", util.RedactSecrets(oc.Reason)))
			req.Target = target
			lane = next

		case acquire.Fail:
			metrics.LaneAttempts.WithLabelValues(string(lane), "fail").Inc()
			return o.failure(out, lane, oc.Err, lastReason)

		default:
			metrics.LaneAttempts.WithLabelValues(string(lane), "fail").Inc()
			return o.failure(out, lane, eris.Errorf("lane %s returned no outcome", lane), lastReason)
		}
	}
}

// next picks the escalation target for a lane that returned esc. The lane's own
// suggestion wins when it is a permitted successor; otherwise the first registered,
// unvisited successor is used.
func (o *Orchestrator) next(from acquire.Lane, esc acquire.Escalate, req acquire.Request, policy acquire.ExtractionPolicy, visited map[acquire.Lane]bool) (acquire.Lane, string) {
	allowed := successors[from]
	if from == acquire.LaneDirect && policy.Portal.Backend == acquire.BackendAgentic {
		allowed = []acquire.Lane{acquire.LaneAgentic}
	}
	usable := func(l acquire.Lane) bool {
		_, ok := o.lanes[l]
		return ok && !visited[l]
	}

	var next acquire.Lane
	for _, l := range allowed {
		if l == esc.Next && usable(l) {
			next = l
			break
		}
	}
	if next == "" {
		for _, l := range allowed {
			if usable(l) {
				next = l
				break
			}
		}
	}
	if next == "" {
		return "", ""
	}
	return next, escalationTarget(from, esc, req)
}

// escalationTarget is the URL the next lane should open. Leaving Lane 2, that is the
// first link classified as a portal, else the first link in the email, else the page
// that asked for interaction. Later hops keep the target the portal lane worked on.
func escalationTarget(from acquire.Lane, esc acquire.Escalate, req acquire.Request) string {
	if from != acquire.LaneDirect {
		if req.Target != "" {
			return req.Target
		}
		if esc.Target != "" {
			return esc.Target
		}
	}
	if u, ok := req.Decision.FirstPortalLink(); ok {
		return u
	}
	if ls := links.FromEmail(req.Email); len(ls) > 0 {
		return ls[0].URL
	}
	return esc.Target
}

func (o *Orchestrator) failure(out acquire.Result, lane acquire.Lane, err error, lastReason string) acquire.Result {
	out.Success = false
	out.Lane = lane
	out.Error = "acquisition failed"
	if err != nil {
		out.Error = util.RedactSecrets(err.Error())
	}
	out.EscalationReason = lastReason
	return out
}
