package acquire

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Backend selects how Lane 3 drives a portal.
type Backend string

const (
	BackendBrowser Backend = "browser"
	BackendAgentic Backend = "agentic"
)

// ParseBackend validates a configured Lane 3 backend. Empty selects the browser.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "browser", "deterministic":
		return BackendBrowser, nil
	case "agentic", "agent":
		return BackendAgentic, nil
	}
	return "", eris.Errorf("invalid lane3 backend %q", s)
}

// DirectOptions tunes Lane 2.
type DirectOptions struct {
	FollowRedirects bool
	MaxRedirects    int
}

// PortalOptions tunes Lane 3. Selector hints override what the interaction detector finds.
type PortalOptions struct {
	// RequirePIN makes a missing access code an immediate escalation instead of a
	// failure at the portal's code prompt.
	RequirePIN       bool
	Backend          Backend
	PINSelector      string
	SubmitSelector   string
	DownloadSelector string
}

// ExtractionPolicy is the per-sender configuration the pipeline reads but never writes.
type ExtractionPolicy struct {
	PreferredLane Lane
	Direct        DirectOptions
	Portal        PortalOptions
	// Instruction is free text forwarded to the AI advisors.
	Instruction string
	// FallbackConfidence is the confidence reported when links exist but none were
	// classified as documents and every link is sent to Lane 3.
	FallbackConfidence float64
}

const (
	DefaultMaxRedirects       = 5
	maxAllowedRedirects       = 20
	DefaultFallbackConfidence = 0.5
)

// DefaultPolicy returns the policy used for senders without configuration.
func DefaultPolicy() ExtractionPolicy {
	return ExtractionPolicy{
		PreferredLane: LaneAuto,
		Direct: DirectOptions{
			FollowRedirects: true,
			MaxRedirects:    DefaultMaxRedirects,
		},
		Portal: PortalOptions{
			Backend: BackendBrowser,
		},
		FallbackConfidence: DefaultFallbackConfidence,
	}
}

// PolicyOption customizes a policy built by NewPolicy.
type PolicyOption func(*ExtractionPolicy)

func WithDirect(followRedirects bool, maxRedirects int) PolicyOption {
	return func(p *ExtractionPolicy) {
		p.Direct = DirectOptions{FollowRedirects: followRedirects, MaxRedirects: maxRedirects}
	}
}

func WithPortal(o PortalOptions) PolicyOption {
	return func(p *ExtractionPolicy) { p.Portal = o }
}

func WithInstruction(s string) PolicyOption {
	return func(p *ExtractionPolicy) { p.Instruction = strings.TrimSpace(s) }
}

func WithFallbackConfidence(c float64) PolicyOption {
	return func(p *ExtractionPolicy) { p.FallbackConfidence = c }
}

// NewPolicy builds and validates a policy. The preferred lane string is parsed here so
// that the decision matrix only ever sees valid lanes.
func NewPolicy(preferredLane string, opts ...PolicyOption) (ExtractionPolicy, error) {
	p := DefaultPolicy()
	lane, err := ParseLane(preferredLane)
	if err != nil {
		return ExtractionPolicy{}, err
	}
	p.PreferredLane = lane
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return ExtractionPolicy{}, err
	}
	return p, nil
}

// Validate checks invariants of an already-built policy.
func (p ExtractionPolicy) Validate() error {
	if p.PreferredLane != LaneAuto && !p.PreferredLane.Dispatchable() {
		return eris.Errorf("invalid preferred lane %q", p.PreferredLane)
	}
	if p.Direct.MaxRedirects < 0 || p.Direct.MaxRedirects > maxAllowedRedirects {
		return eris.Errorf("max redirects must be within [0,%d], got %d", maxAllowedRedirects, p.Direct.MaxRedirects)
	}
	switch p.Portal.Backend {
	case BackendBrowser, BackendAgentic:
	default:
		return eris.Errorf("invalid lane3 backend %q", p.Portal.Backend)
	}
	if p.FallbackConfidence <= 0 || p.FallbackConfidence > 1 {
		return eris.Errorf("fallback confidence must be within (0,1], got %v", p.FallbackConfidence)
	}
	return nil
}
