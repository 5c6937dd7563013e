// Package links pulls candidate URLs out of email bodies.
package links

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shpitdev/docfetch/internal/acquire"
)

// Format is the body flavor handed to Extract.
type Format int

const (
	FormatText Format = iota
	FormatHTML
)

var (
	textURLRe  = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'\x60]+`)
	spaceRe    = regexp.MustCompile(`\s+`)
	trailPunct = ".,;:!?)]}>'\""
)

// Extract returns the http(s) links in body, deduplicated by exact URL in first-seen order.
func Extract(body string, format Format) []acquire.CandidateLink {
	var raw []acquire.CandidateLink
	switch format {
	case FormatHTML:
		raw = fromHTML(body)
	default:
		raw = fromText(body)
	}
	return dedupe(raw)
}

// FromEmail merges the HTML body's anchors with URLs found in the text body.
// HTML links come first and keep their anchor labels.
func FromEmail(email *acquire.InboundEmail) []acquire.CandidateLink {
	if email == nil {
		return nil
	}
	var raw []acquire.CandidateLink
	if strings.TrimSpace(email.HTMLBody) != "" {
		raw = append(raw, fromHTML(email.HTMLBody)...)
	}
	if strings.TrimSpace(email.TextBody) != "" {
		raw = append(raw, fromText(email.TextBody)...)
	}
	return dedupe(raw)
}

func fromHTML(body string) []acquire.CandidateLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fromText(body)
	}
	var out []acquire.CandidateLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, ok := normalize(href)
		if !ok {
			return
		}
		label := collapse(s.Text())
		if label == "" {
			label = collapse(s.AttrOr("title", s.AttrOr("aria-label", "")))
		}
		out = append(out, acquire.CandidateLink{URL: u, Label: label})
	})
	return out
}

func fromText(body string) []acquire.CandidateLink {
	var out []acquire.CandidateLink
	for _, m := range textURLRe.FindAllString(body, -1) {
		u, ok := normalize(strings.TrimRight(m, trailPunct))
		if !ok {
			continue
		}
		out = append(out, acquire.CandidateLink{URL: u})
	}
	return out
}

func normalize(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return href, true
	}
	return "", false
}

func dedupe(in []acquire.CandidateLink) []acquire.CandidateLink {
	seen := make(map[string]int, len(in))
	out := make([]acquire.CandidateLink, 0, len(in))
	for _, l := range in {
		if i, ok := seen[l.URL]; ok {
			if out[i].Label == "" {
				out[i].Label = l.Label
			}
			continue
		}
		seen[l.URL] = len(out)
		out = append(out, l)
	}
	return out
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// PlainText returns readable text for an email, preferring the text body and falling
// back to the visible text of the HTML body.
func PlainText(email *acquire.InboundEmail) string {
	if email == nil {
		return ""
	}
	if t := strings.TrimSpace(email.TextBody); t != "" {
		return t
	}
	if strings.TrimSpace(email.HTMLBody) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(email.HTMLBody))
	if err != nil {
		return email.HTMLBody
	}
	doc.Find("script,style,head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p,div,tr,li,td,h1,h2,h3,h4,h5,h6,table").AfterHtml("\n")
	text := doc.Text()
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if ln = collapse(ln); ln != "" {
			kept = append(kept, ln)
		}
	}
	return strings.Join(kept, "\n")
}
