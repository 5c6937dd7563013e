package acquire

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"strings"
)

// InboundEmail is a received notification. It is immutable once handed to the pipeline.
type InboundEmail struct {
	MessageID   string       `json:"message_id"`
	From        string       `json:"from"`
	To          []string     `json:"to,omitempty"`
	Subject     string       `json:"subject"`
	HTMLBody    string       `json:"html_body,omitempty"`
	TextBody    string       `json:"text_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file carried by an email. Content is base64 encoded in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"content"`
}

// Document is an acquired PDF.
type Document struct {
	Name      string `json:"name"`
	Content   []byte `json:"-"`
	SourceURL string `json:"source_url,omitempty"`
	Lane      Lane   `json:"lane"`
}

// Size returns the document length in bytes.
func (d Document) Size() int { return len(d.Content) }

var pdfMagic = []byte("%PDF")

// IsPDF reports whether b starts with the PDF magic bytes.
func IsPDF(b []byte) bool {
	return bytes.HasPrefix(b, pdfMagic)
}

// UniqueName returns name, or name with a -2, -3, ... suffix before its extension when
// the name is already in used. The returned name is added to used.
func UniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}

// IsPDFAttachment reports whether the attachment's content type or filename indicates a PDF.
// It does not inspect the bytes.
func IsPDFAttachment(a Attachment) bool {
	if ct := strings.TrimSpace(a.ContentType); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			mt = strings.ToLower(ct)
		}
		switch mt {
		case "application/pdf", "application/x-pdf", "application/acrobat":
			return true
		}
	}
	return strings.EqualFold(path.Ext(strings.TrimSpace(a.Filename)), ".pdf")
}

// HasPDFAttachment reports whether any attachment looks like a PDF.
func (e *InboundEmail) HasPDFAttachment() bool {
	if e == nil {
		return false
	}
	for _, a := range e.Attachments {
		if IsPDFAttachment(a) {
			return true
		}
	}
	return false
}

// Sender returns the bare, lower-cased sender address.
func (e *InboundEmail) Sender() string {
	if e == nil {
		return ""
	}
	from := strings.TrimSpace(e.From)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			from = from[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}
