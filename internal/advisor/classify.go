// Package advisor holds the advisory collaborators of the pipeline: link classification
// and access-code extraction. Remote implementations may fail at any time; the fallback
// strategies here always produce a deterministic answer.
package advisor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/metrics"
	"github.com/shpitdev/docfetch/internal/util"
)

const (
	MethodAI        = "ai"
	MethodHeuristic = "heuristic"
	MethodRegex     = "regex"
)

// Classification splits candidate links into document links and everything else.
type Classification struct {
	DocumentLinks []acquire.ClassifiedLink
	OtherLinks    []acquire.CandidateLink
	Reason        string
	Method        string
}

// LinkClassifier decides which links lead to documents.
type LinkClassifier interface {
	Classify(ctx context.Context, email *acquire.InboundEmail, links []acquire.CandidateLink, instruction string) (Classification, error)
}

// HeuristicClassifier treats every link as a document link, typed by its path extension.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(_ context.Context, _ *acquire.InboundEmail, links []acquire.CandidateLink, _ string) (Classification, error) {
	return Heuristic(links), nil
}

// Heuristic is the deterministic classification used when no remote classifier answers.
func Heuristic(links []acquire.CandidateLink) Classification {
	out := Classification{
		DocumentLinks: make([]acquire.ClassifiedLink, 0, len(links)),
		Reason:        "classified by url extension",
		Method:        MethodHeuristic,
	}
	for _, l := range links {
		t := acquire.LinkInteractivePortal
		if acquire.HasPDFPath(l.URL) {
			t = acquire.LinkDirectPDF
		}
		out.DocumentLinks = append(out.DocumentLinks, acquire.ClassifiedLink{CandidateLink: l, Type: t})
	}
	return out
}

// FallbackClassifier consults Primary under Timeout and answers with Heuristic when it
// is absent or fails. It never returns an error.
type FallbackClassifier struct {
	Primary LinkClassifier
	Timeout time.Duration
	Logger  *zap.Logger
}

func (f FallbackClassifier) Classify(ctx context.Context, email *acquire.InboundEmail, links []acquire.CandidateLink, instruction string) (Classification, error) {
	if len(links) == 0 {
		return Classification{Method: MethodHeuristic, Reason: "no links"}, nil
	}
	if f.Primary == nil {
		return Heuristic(links), nil
	}

	callCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	res, err := f.Primary.Classify(callCtx, email, links, instruction)
	if err == nil {
		res = sanitize(res, links)
		if res.Method == "" {
			res.Method = MethodAI
		}
		return res, nil
	}

	metrics.AdvisorFallbacks.WithLabelValues("classifier").Inc()
	logger(f.Logger).Warn("link classifier unavailable, using url heuristics",
		zap.String("error", util.RedactSecrets(err.Error())),
		zap.Int("links", len(links)),
	)
	out := Heuristic(links)
	out.Reason = "classifier unavailable: " + util.RedactSecrets(eris.Cause(err).Error())
	return out, nil
}

// sanitize drops classified links that were not among the candidates, so a remote
// classifier cannot introduce URLs the email never contained.
func sanitize(res Classification, candidates []acquire.CandidateLink) Classification {
	known := make(map[string]acquire.CandidateLink, len(candidates))
	for _, c := range candidates {
		known[c.URL] = c
	}
	seen := make(map[string]struct{}, len(candidates))
	docs := res.DocumentLinks[:0:0]
	for _, l := range res.DocumentLinks {
		c, ok := known[l.URL]
		if !ok {
			continue
		}
		if _, dup := seen[l.URL]; dup {
			continue
		}
		if l.Type != acquire.LinkDirectPDF && l.Type != acquire.LinkInteractivePortal {
			continue
		}
		seen[l.URL] = struct{}{}
		docs = append(docs, acquire.ClassifiedLink{CandidateLink: c, Type: l.Type})
	}
	var other []acquire.CandidateLink
	for _, c := range candidates {
		if _, ok := seen[c.URL]; !ok {
			other = append(other, c)
		}
	}
	res.DocumentLinks = docs
	res.OtherLinks = other
	return res
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
