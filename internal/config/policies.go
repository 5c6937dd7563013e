package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/docfetch/internal/acquire"
)

// policyFile is the on-disk shape of the sender policy file.
type policyFile struct {
	Default *policyEntry  `yaml:"default"`
	Senders []policyEntry `yaml:"senders"`
}

type policyEntry struct {
	// Match is a full address ("billing@utility.test") or a domain ("@utility.test").
	Match              string       `yaml:"match"`
	PreferredLane      string       `yaml:"preferred_lane"`
	FollowRedirects    *bool        `yaml:"follow_redirects"`
	MaxRedirects       *int         `yaml:"max_redirects"`
	Portal             *portalEntry `yaml:"portal"`
	Instruction        string       `yaml:"instruction"`
	FallbackConfidence *float64     `yaml:"fallback_confidence"`
}

type portalEntry struct {
	Backend          string `yaml:"backend"`
	RequirePIN       bool   `yaml:"require_pin"`
	PINSelector      string `yaml:"pin_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	DownloadSelector string `yaml:"download_selector"`
}

// PolicySet resolves the extraction policy for a sender.
type PolicySet struct {
	Default acquire.ExtractionPolicy
	exact   map[string]acquire.ExtractionPolicy
	domains map[string]acquire.ExtractionPolicy
}

// DefaultPolicies returns a set that answers DefaultPolicy for every sender.
func DefaultPolicies() *PolicySet {
	return &PolicySet{
		Default: acquire.DefaultPolicy(),
		exact:   map[string]acquire.ExtractionPolicy{},
		domains: map[string]acquire.ExtractionPolicy{},
	}
}

// LoadPolicies reads a policy file. An empty path yields DefaultPolicies.
func LoadPolicies(path string) (*PolicySet, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicies(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read policy file %s", path)
	}
	return ParsePolicies(b)
}

// ParsePolicies decodes and validates a policy document.
func ParsePolicies(b []byte) (*PolicySet, error) {
	var f policyFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, eris.Wrap(err, "decode policy file")
	}

	set := DefaultPolicies()
	if f.Default != nil {
		p, err := f.Default.build()
		if err != nil {
			return nil, eris.Wrap(err, "default policy")
		}
		set.Default = p
	}
	for i, e := range f.Senders {
		match := strings.ToLower(strings.TrimSpace(e.Match))
		if match == "" || match == "@" {
			return nil, eris.Errorf("senders[%d]: match is required", i)
		}
		p, err := e.build()
		if err != nil {
			return nil, eris.Wrapf(err, "senders[%d] (%s)", i, match)
		}
		target := set.exact
		if strings.HasPrefix(match, "@") {
			target = set.domains
		}
		if _, dup := target[match]; dup {
			return nil, eris.Errorf("senders[%d]: duplicate match %q", i, match)
		}
		target[match] = p
	}
	return set, nil
}

func (e policyEntry) build() (acquire.ExtractionPolicy, error) {
	def := acquire.DefaultPolicy()
	follow, maxRedirects := def.Direct.FollowRedirects, def.Direct.MaxRedirects
	if e.FollowRedirects != nil {
		follow = *e.FollowRedirects
	}
	if e.MaxRedirects != nil {
		maxRedirects = *e.MaxRedirects
	}
	opts := []acquire.PolicyOption{acquire.WithDirect(follow, maxRedirects)}

	if e.Portal != nil {
		backend, err := acquire.ParseBackend(e.Portal.Backend)
		if err != nil {
			return acquire.ExtractionPolicy{}, err
		}
		opts = append(opts, acquire.WithPortal(acquire.PortalOptions{
			Backend:          backend,
			RequirePIN:       e.Portal.RequirePIN,
			PINSelector:      strings.TrimSpace(e.Portal.PINSelector),
			SubmitSelector:   strings.TrimSpace(e.Portal.SubmitSelector),
			DownloadSelector: strings.TrimSpace(e.Portal.DownloadSelector),
		}))
	}
	if e.Instruction != "" {
		opts = append(opts, acquire.WithInstruction(e.Instruction))
	}
	if e.FallbackConfidence != nil {
		opts = append(opts, acquire.WithFallbackConfidence(*e.FallbackConfidence))
	}
	return acquire.NewPolicy(e.PreferredLane, opts...)
}

// Resolve returns the policy for sender: an exact address match first, then the
// sender's domain and each parent domain, then the default.
func (s *PolicySet) Resolve(sender string) acquire.ExtractionPolicy {
	if s == nil {
		return acquire.DefaultPolicy()
	}
	sender = strings.ToLower(strings.TrimSpace(sender))
	if p, ok := s.exact[sender]; ok {
		return p
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return s.Default
	}
	domain := sender[at+1:]
	for domain != "" {
		if p, ok := s.domains["@"+domain]; ok {
			return p
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return s.Default
}

// Len reports how many sender entries are configured.
func (s *PolicySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.exact) + len(s.domains)
}
