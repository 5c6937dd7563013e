package acquire

import (
	"net/url"
	"strings"
)

// CandidateLink is a URL found in an email body with its visible label.
type CandidateLink struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// LinkType is the classifier's verdict for a document link.
type LinkType string

const (
	LinkDirectPDF         LinkType = "direct_pdf"
	LinkInteractivePortal LinkType = "interactive_portal"
)

// ClassifiedLink is a document link with its type.
type ClassifiedLink struct {
	CandidateLink
	Type LinkType `json:"type"`
}

// HasPDFPath reports whether the URL path ends in ".pdf", ignoring query and fragment.
func HasPDFPath(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// LaneDecision is the decision matrix output.
type LaneDecision struct {
	Lane       Lane             `json:"lane"`
	Reason     string           `json:"reason"`
	Confidence float64          `json:"confidence"`
	Links      []ClassifiedLink `json:"links,omitempty"`
	// PortalLinks keeps the classifier's interactive links when Links holds the direct
	// ones, so an escalation out of Lane 2 knows where the portal is.
	PortalLinks []ClassifiedLink `json:"portal_links,omitempty"`
	// Candidates holds every link extracted from the email, in extraction order.
	Candidates []CandidateLink `json:"candidates,omitempty"`
	// OtherLinks holds links the classifier did not consider documents.
	OtherLinks []CandidateLink `json:"other_links,omitempty"`
	// ClassifierMethod is "ai", "heuristic", or empty when the classifier was not consulted.
	ClassifierMethod string `json:"classifier_method,omitempty"`
}

// FirstPortalLink returns the first link classified as an interactive portal, looking at
// PortalLinks before Links.
func (d LaneDecision) FirstPortalLink() (string, bool) {
	if len(d.PortalLinks) > 0 {
		return d.PortalLinks[0].URL, true
	}
	if ls := d.LinksOfType(LinkInteractivePortal); len(ls) > 0 {
		return ls[0].URL, true
	}
	return "", false
}

// LinksOfType filters the decision's links.
func (d LaneDecision) LinksOfType(t LinkType) []ClassifiedLink {
	var out []ClassifiedLink
	for _, l := range d.Links {
		if l.Type == t {
			out = append(out, l)
		}
	}
	return out
}
