// Package attachment implements Lane 1: documents that arrive as PDF attachments.
package attachment

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/trace"
)

var ErrNoPDFAttachments = eris.New("no PDF attachments found")

// Lane collects PDF attachments. It never touches the network and never escalates.
type Lane struct {
	Now func() time.Time
}

func (l Lane) Run(_ context.Context, req acquire.Request) acquire.LaneResult {
	rec := trace.NewRecorderWithClock(l.Now)
	var attachments []acquire.Attachment
	if req.Email != nil {
		attachments = req.Email.Attachments
	}
	rec.Add("lane1.start", map[string]any{"attachments": len(attachments)})

	var docs []acquire.Document
	used := make(map[string]bool)
	for i, a := range attachments {
		if !acquire.IsPDFAttachment(a) {
			rec.Add("lane1.skip", map[string]any{"index": i, "filename": a.Filename, "reason": "not a PDF attachment"})
			continue
		}
		if !acquire.IsPDF(a.Content) {
			rec.Add("lane1.skip", map[string]any{"index": i, "filename": a.Filename, "reason": "content is not a PDF"})
			continue
		}
		name := acquire.UniqueName(documentName(a.Filename, i), used)
		docs = append(docs, acquire.Document{Name: name, Content: a.Content, Lane: acquire.LaneAttachments})
		rec.Add("lane1.collected", map[string]any{"index": i, "name": name, "bytes": len(a.Content)})
	}

	if len(docs) == 0 {
		rec.Add("lane1.failed", map[string]any{"reason": ErrNoPDFAttachments.Error()})
		return acquire.LaneResult{Outcome: acquire.Fail{Err: ErrNoPDFAttachments}, Trace: rec.Entries()}
	}
	rec.Add("lane1.complete", map[string]any{"documents": len(docs)})
	return acquire.LaneResult{Outcome: acquire.Success{Documents: docs}, Trace: rec.Entries()}
}

func documentName(filename string, index int) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("attachment-%d.pdf", index+1)
	}
	if !strings.EqualFold(path.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
