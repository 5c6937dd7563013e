// Package decision picks the acquisition lane for an email.
package decision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
	"github.com/shpitdev/docfetch/internal/links"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/metrics"
)

const (
	confidenceOverride = 1.0
	confidenceStrong   = 0.9
	confidenceUnknown  = 0.5

	ReasonNothingFound = "no attachments or links found"
)

// Matrix applies the lane rules in priority order; the first matching rule wins.
type Matrix struct {
	// Classifier must not fail; wrap remote classifiers in advisor.FallbackClassifier.
	Classifier advisor.LinkClassifier
	Logger     *zap.Logger
}

// New returns a Matrix. A nil classifier selects the url-extension heuristic.
func New(classifier advisor.LinkClassifier, logger *zap.Logger) *Matrix {
	if classifier == nil {
		classifier = advisor.HeuristicClassifier{}
	}
	return &Matrix{Classifier: classifier, Logger: logging.OrNop(logger)}
}

// Decide returns the lane for email under policy. It never fails: classifier errors
// degrade to the heuristic classification.
func (m *Matrix) Decide(ctx context.Context, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.LaneDecision {
	d := m.decide(ctx, email, policy)
	metrics.Decisions.WithLabelValues(string(d.Lane)).Inc()
	logging.OrNop(m.Logger).Debug("lane decided",
		zap.String("lane", string(d.Lane)),
		zap.String("reason", d.Reason),
		zap.Float64("confidence", d.Confidence),
		zap.Int("links", len(d.Links)),
	)
	return d
}

func (m *Matrix) decide(ctx context.Context, email *acquire.InboundEmail, policy acquire.ExtractionPolicy) acquire.LaneDecision {
	candidates := links.FromEmail(email)

	// 1. Explicit policy override. The classifier is not consulted; the lane still gets
	// deterministically typed links to work with.
	if policy.PreferredLane != acquire.LaneAuto && policy.PreferredLane.Dispatchable() {
		return acquire.LaneDecision{
			Lane:       policy.PreferredLane,
			Reason:     fmt.Sprintf("policy prefers %s", policy.PreferredLane),
			Confidence: confidenceOverride,
			Links:      advisor.Heuristic(candidates).DocumentLinks,
			Candidates: candidates,
		}
	}

	// 2. PDF attachment.
	if email.HasPDFAttachment() {
		return acquire.LaneDecision{
			Lane:       acquire.LaneAttachments,
			Reason:     "email carries a PDF attachment",
			Confidence: confidenceStrong,
			Candidates: candidates,
		}
	}

	if len(candidates) == 0 {
		reason := ReasonNothingFound
		if email != nil && len(email.Attachments) > 0 {
			reason = "no PDF attachments or links found"
		}
		return acquire.LaneDecision{
			Lane:       acquire.LaneUnknown,
			Reason:     reason,
			Confidence: confidenceUnknown,
		}
	}

	cls, err := m.Classifier.Classify(ctx, email, candidates, policy.Instruction)
	if err != nil {
		cls = advisor.Heuristic(candidates)
	}
	base := acquire.LaneDecision{
		Candidates:       candidates,
		OtherLinks:       cls.OtherLinks,
		ClassifierMethod: cls.Method,
	}

	// 3. Direct PDF links.
	var direct, portal []acquire.ClassifiedLink
	for _, l := range cls.DocumentLinks {
		switch l.Type {
		case acquire.LinkDirectPDF:
			direct = append(direct, l)
		case acquire.LinkInteractivePortal:
			portal = append(portal, l)
		}
	}
	if len(direct) > 0 {
		d := base
		d.Lane = acquire.LaneDirect
		d.Reason = withClassifierReason(fmt.Sprintf("%d direct PDF link(s)", len(direct)), cls.Reason)
		d.Confidence = confidenceStrong
		d.Links = direct
		d.PortalLinks = portal
		return d
	}

	// 4. Portal links.
	if len(portal) > 0 {
		d := base
		d.Lane = acquire.LaneInteractive
		d.Reason = withClassifierReason(fmt.Sprintf("%d interactive portal link(s)", len(portal)), cls.Reason)
		d.Confidence = confidenceStrong
		d.Links = portal
		return d
	}

	// 5. Links exist but none was judged a document: hand all of them to Lane 3.
	relabelled := make([]acquire.ClassifiedLink, 0, len(candidates))
	for _, c := range candidates {
		relabelled = append(relabelled, acquire.ClassifiedLink{CandidateLink: c, Type: acquire.LinkInteractivePortal})
	}
	conf := policy.FallbackConfidence
	if conf <= 0 || conf > 1 {
		conf = acquire.DefaultFallbackConfidence
	}
	d := base
	d.Lane = acquire.LaneInteractive
	d.Reason = "links found but none classified as documents; trying all links interactively"
	d.Confidence = conf
	d.Links = relabelled
	d.OtherLinks = nil
	return d
}

func withClassifierReason(reason, classifierReason string) string {
	if classifierReason == "" {
		return reason
	}
	return reason + " (" + classifierReason + ")"
}
