package advisor

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shpitdev/docfetch/internal/acquire"
)

// NewLimiter returns a limiter allowing rps calls per second, or nil when rps <= 0.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimitedClassifier waits on Limiter before each remote call. A wait that cannot be
// satisfied before ctx ends is reported as an error, which the fallback turns into the
// heuristic answer.
type RateLimitedClassifier struct {
	Next    LinkClassifier
	Limiter *rate.Limiter
}

func (r RateLimitedClassifier) Classify(ctx context.Context, email *acquire.InboundEmail, links []acquire.CandidateLink, instruction string) (Classification, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return Classification{}, eris.Wrap(err, "classifier rate limit")
		}
	}
	return r.Next.Classify(ctx, email, links, instruction)
}

// RateLimitedPINExtractor is the PINExtractor counterpart of RateLimitedClassifier.
type RateLimitedPINExtractor struct {
	Next    PINExtractor
	Limiter *rate.Limiter
}

func (r RateLimitedPINExtractor) ExtractPIN(ctx context.Context, subject, body, instruction string) (PINResult, bool, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return PINResult{}, false, eris.Wrap(err, "pin extractor rate limit")
		}
	}
	return r.Next.ExtractPIN(ctx, subject, body, instruction)
}
