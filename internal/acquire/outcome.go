package acquire

import (
	"context"

	"github.com/shpitdev/docfetch/internal/trace"
)

// Outcome is the tagged result of one lane run. It is one of Success, Escalate or Fail.
type Outcome interface {
	outcome()
}

// Success carries at least one document.
type Success struct {
	Documents []Document
}

// Escalate hands the email to a costlier lane.
type Escalate struct {
	Reason string
	// Next is the lane the escalating lane suggests.
	Next Lane
	// Target is the URL that triggered the escalation, if any.
	Target string
}

// Fail is a terminal failure of the lane with no suggested successor.
type Fail struct {
	Err error
}

func (Success) outcome()  {}
func (Escalate) outcome() {}
func (Fail) outcome()     {}

// LaneResult pairs an outcome with the lane's trace fragment.
type LaneResult struct {
	Outcome Outcome
	Trace   []trace.Entry
}

// Succeeded reports whether the outcome is Success.
func (r LaneResult) Succeeded() bool {
	_, ok := r.Outcome.(Success)
	return ok
}

// RequiresEscalation reports whether the outcome is Escalate.
func (r LaneResult) RequiresEscalation() bool {
	_, ok := r.Outcome.(Escalate)
	return ok
}

// EscalationReason returns the escalation reason, or "".
func (r LaneResult) EscalationReason() string {
	if e, ok := r.Outcome.(Escalate); ok {
		return e.Reason
	}
	return ""
}

// Request is the input to a lane.
type Request struct {
	Email    *InboundEmail
	Policy   ExtractionPolicy
	Decision LaneDecision
	// Target is set when a lane is entered through escalation.
	Target string
}

// PortalTarget picks the URL Lane 3 should open: the escalation target, else the first
// interactive link, else the first document link, else the first candidate link.
func (r Request) PortalTarget() string {
	if r.Target != "" {
		return r.Target
	}
	if u, ok := r.Decision.FirstPortalLink(); ok {
		return u
	}
	if len(r.Decision.Links) > 0 {
		return r.Decision.Links[0].URL
	}
	if len(r.Decision.Candidates) > 0 {
		return r.Decision.Candidates[0].URL
	}
	return ""
}

// Handler runs one lane.
type Handler interface {
	Run(ctx context.Context, req Request) LaneResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) LaneResult

func (f HandlerFunc) Run(ctx context.Context, req Request) LaneResult { return f(ctx, req) }
