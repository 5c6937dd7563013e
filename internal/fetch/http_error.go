package fetch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/docfetch/internal/util"
)

// HTTPError is a sanitized summary of a non-2xx response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	URL        string
	StatusCode int
	Status     string

	// Snippet is a redacted, truncated hint of the body.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	parts := []string{
		fmt.Sprintf("%s %s: status=%s", strings.TrimSpace(e.Op), util.RedactSecrets(e.URL), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Temporary reports whether retrying later could succeed.
func (e *HTTPError) Temporary() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5)
}

// NewHTTPError summarizes a non-2xx response; body is the (possibly partial) response body.
func NewHTTPError(op, url string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op, URL: url}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}
	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain sensitive data.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := util.RedactSecrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
