// Package direct implements Lane 2: documents reachable by a plain HTTP download.
package direct

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/fetch"
	"github.com/shpitdev/docfetch/internal/interaction"
	"github.com/shpitdev/docfetch/internal/links"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/trace"
	"github.com/shpitdev/docfetch/internal/util"
)

var ErrNothingDownloadable = eris.New("no PDFs downloadable")

// Fetcher is the network collaborator of Lane 2.
type Fetcher interface {
	Probe(ctx context.Context, url string, rd fetch.Redirects) (fetch.Probe, error)
	FetchHTML(ctx context.Context, url string, rd fetch.Redirects) (string, error)
	DownloadPDF(ctx context.Context, url string, rd fetch.Redirects) (fetch.Download, error)
}

// Lane walks the candidate links one at a time and stops at the first page that needs
// a human step.
type Lane struct {
	Fetcher Fetcher
	// Detect inspects fetched pages; nil selects interaction.Detect.
	Detect func(html string) interaction.Signal
	Logger *zap.Logger
	Now    func() time.Time
}

func (l Lane) Run(ctx context.Context, req acquire.Request) acquire.LaneResult {
	rec := trace.NewRecorderWithClock(l.Now)
	log := logging.OrNop(l.Logger)
	detect := l.Detect
	if detect == nil {
		detect = interaction.Detect
	}
	rd := fetch.RedirectsFrom(req.Policy.Direct)

	urls := inputURLs(req)
	rec.Add("lane2.start", map[string]any{"links": len(urls)})

	var docs []acquire.Document
	used := make(map[string]bool)
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			rec.Add("lane2.aborted", map[string]any{"error": err.Error()})
			return acquire.LaneResult{Outcome: acquire.Fail{Err: err}, Trace: rec.Entries()}
		}
		safeURL := util.RedactSecrets(u)

		probe, err := l.Fetcher.Probe(ctx, u, rd)
		if err != nil || !probe.Accessible {
			data := map[string]any{"url": safeURL, "status": probe.StatusCode}
			if err != nil {
				data["error"] = util.RedactSecrets(err.Error())
			}
			rec.Add("lane2.skip_inaccessible", data)
			continue
		}
		rec.Add("lane2.probe", map[string]any{
			"url":          safeURL,
			"status":       probe.StatusCode,
			"content_type": probe.ContentType,
		})

		if probe.IsHTML && !probe.IsPDF {
			page, err := l.Fetcher.FetchHTML(ctx, u, rd)
			if err != nil {
				rec.Add("lane2.skip_page", map[string]any{"url": safeURL, "error": util.RedactSecrets(err.Error())})
				continue
			}
			sig := detect(page)
			rec.Add("lane2.interaction_check", map[string]any{
				"url":        safeURL,
				"required":   sig.RequiresInteraction,
				"kind":       string(sig.Kind),
				"confidence": sig.Confidence,
			})
			if sig.RequiresInteraction {
				reason := fmt.Sprintf("%s interaction required", sig.Kind)
				rec.Add("lane2.escalate", map[string]any{"url": safeURL, "reason": reason})
				log.Info("lane2 escalating", zap.String("url", safeURL), zap.String("kind", string(sig.Kind)))
				return acquire.LaneResult{
					Outcome: acquire.Escalate{Reason: reason, Next: acquire.LaneInteractive, Target: u},
					Trace:   rec.Entries(),
				}
			}
		}

		dl, err := l.Fetcher.DownloadPDF(ctx, u, rd)
		if err != nil {
			rec.Add("lane2.skip_download", map[string]any{"url": safeURL, "error": util.RedactSecrets(err.Error())})
			continue
		}
		name := acquire.UniqueName(documentName(dl.Filename, i), used)
		docs = append(docs, acquire.Document{
			Name:      name,
			Content:   dl.Content,
			SourceURL: u,
			Lane:      acquire.LaneDirect,
		})
		rec.Add("lane2.downloaded", map[string]any{"url": safeURL, "name": name, "bytes": len(dl.Content)})
	}

	if len(docs) == 0 {
		rec.Add("lane2.failed", map[string]any{"reason": ErrNothingDownloadable.Error()})
		return acquire.LaneResult{Outcome: acquire.Fail{Err: ErrNothingDownloadable}, Trace: rec.Entries()}
	}
	rec.Add("lane2.complete", map[string]any{"documents": len(docs)})
	return acquire.LaneResult{Outcome: acquire.Success{Documents: docs}, Trace: rec.Entries()}
}

func inputURLs(req acquire.Request) []string {
	var out []string
	for _, l := range req.Decision.Links {
		out = append(out, l.URL)
	}
	if len(out) > 0 {
		return out
	}
	for _, l := range links.FromEmail(req.Email) {
		out = append(out, l.URL)
	}
	return out
}

func documentName(filename string, index int) string {
	if filename != "" {
		return filename
	}
	return fmt.Sprintf("document-%d.pdf", index+1)
}
