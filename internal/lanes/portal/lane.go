// Package portal implements Lane 3 with a scripted headless browser: enter the access
// code from the email, wait for the portal, and capture the PDF.
package portal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
	"github.com/shpitdev/docfetch/internal/browser"
	"github.com/shpitdev/docfetch/internal/interaction"
	"github.com/shpitdev/docfetch/internal/links"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/trace"
	"github.com/shpitdev/docfetch/internal/util"
)

// States of a Lane 3 run, in order. StateError is reachable from any of them.
const (
	StateStart          = "start"
	StatePINExtraction  = "pin_extraction"
	StateBrowserLaunch  = "browser_launch"
	StateNavigate       = "navigate"
	StatePINEntry       = "pin_entry"
	StateSubmit         = "submit"
	StateWaitForContent = "wait_for_content"
	StatePDFAcquisition = "pdf_acquisition"
	StateComplete       = "complete"
	StateError          = "error"
)

// Strategies for capturing the PDF, attempted in this order.
const (
	StrategyInterceptedDownload = "intercepted_download"
	StrategyDownloadButton      = "download_button"
	StrategyPrintToPDF          = "print_to_pdf"
)

const ReasonNoPIN = "no access code found in email"

var (
	errNoTarget      = eris.New("no portal url to open")
	errPINPrompt     = eris.New("page asks for an access code but none was found in the email")
	errPINRejected   = eris.New("portal did not accept the access code")
	errLoginRequired = eris.New("portal requires a login")
	errNoPDFStrategy = eris.New("no strategy produced a PDF")
)

// Timeouts bounds each step.
type Timeouts struct {
	Launch        time.Duration
	Navigate      time.Duration
	Step          time.Duration
	NetworkIdle   time.Duration
	Download      time.Duration
	DownloadGrace time.Duration
	Print         time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Launch:        30 * time.Second,
		Navigate:      30 * time.Second,
		Step:          10 * time.Second,
		NetworkIdle:   45 * time.Second,
		Download:      20 * time.Second,
		DownloadGrace: 3 * time.Second,
		Print:         30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Launch <= 0 {
		t.Launch = d.Launch
	}
	if t.Navigate <= 0 {
		t.Navigate = d.Navigate
	}
	if t.Step <= 0 {
		t.Step = d.Step
	}
	if t.NetworkIdle <= 0 {
		t.NetworkIdle = d.NetworkIdle
	}
	if t.Download <= 0 {
		t.Download = d.Download
	}
	if t.DownloadGrace <= 0 {
		t.DownloadGrace = d.DownloadGrace
	}
	if t.Print <= 0 {
		t.Print = d.Print
	}
	return t
}

// Lane drives one portal URL per run. The same URL is never retried within a run.
type Lane struct {
	Launcher browser.Launcher
	// PIN must not fail; wrap remote extractors in advisor.FallbackPINExtractor.
	PIN      advisor.PINExtractor
	Detect   func(html string) interaction.Signal
	Timeouts Timeouts
	Logger   *zap.Logger
	Now      func() time.Time
}

type run struct {
	lane   Lane
	rec    *trace.Recorder
	log    *zap.Logger
	to     Timeouts
	req    acquire.Request
	target string
	state  string
	pin    string
}

func (l Lane) Run(ctx context.Context, req acquire.Request) acquire.LaneResult {
	r := &run{
		lane:   l,
		rec:    trace.NewRecorderWithClock(l.Now),
		log:    logging.OrNop(l.Logger),
		to:     l.Timeouts.withDefaults(),
		req:    req,
		target: req.PortalTarget(),
		state:  StateStart,
	}
	if r.target == "" {
		r.target = firstEmailLink(req.Email)
	}
	if l.Detect == nil {
		r.lane.Detect = interaction.Detect
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) acquire.LaneResult {
	r.rec.Add("lane3."+StateStart, map[string]any{"url": util.RedactSecrets(r.target)})
	if r.target == "" {
		return r.fail(errNoTarget)
	}

	r.state = StatePINExtraction
	pin, found := r.extractPIN(ctx)
	r.pin = pin.Code
	if !found && r.req.Policy.Portal.RequirePIN {
		r.rec.Add("lane3."+StateError, map[string]any{"state": r.state, "error": ReasonNoPIN})
		return acquire.LaneResult{
			Outcome: acquire.Escalate{Reason: ReasonNoPIN, Next: acquire.LaneAgentic, Target: r.target},
			Trace:   r.rec.Entries(),
		}
	}

	var doc acquire.Document
	r.state = StateBrowserLaunch
	launchCtx, cancelLaunch := context.WithTimeout(ctx, r.to.Launch)
	err := browser.WithSession(launchCtx, launcher{r.lane.Launcher}, func(s browser.Session) error {
		r.rec.Add("lane3."+StateBrowserLaunch, nil)
		var err error
		doc, err = r.drive(ctx, s)
		return err
	})
	cancelLaunch()
	if err != nil {
		return r.escalate(err)
	}

	r.state = StateComplete
	r.rec.Add("lane3."+StateComplete, map[string]any{"name": doc.Name, "bytes": len(doc.Content)})
	r.log.Info("lane3 acquired document", zap.String("url", util.RedactSecrets(r.target)), zap.Int("bytes", len(doc.Content)))
	return acquire.LaneResult{Outcome: acquire.Success{Documents: []acquire.Document{doc}}, Trace: r.rec.Entries()}
}

// launcher marks every launch failure as a *browser.LaunchError. Only Launch sees the
// launch deadline; the session itself runs under the caller's ctx.
type launcher struct {
	browser.Launcher
}

func (s launcher) Launch(ctx context.Context) (browser.Session, error) {
	if s.Launcher == nil {
		return nil, &browser.LaunchError{Err: eris.New("no browser launcher configured")}
	}
	sess, err := s.Launcher.Launch(ctx)
	if err != nil {
		var le *browser.LaunchError
		if !errors.As(err, &le) {
			err = &browser.LaunchError{Err: err}
		}
	}
	return sess, err
}

func (r *run) extractPIN(ctx context.Context) (advisor.PINResult, bool) {
	extractor := r.lane.PIN
	if extractor == nil {
		extractor = advisor.RegexPINExtractor{}
	}
	var subject string
	if r.req.Email != nil {
		subject = r.req.Email.Subject
	}
	res, found, err := extractor.ExtractPIN(ctx, subject, links.PlainText(r.req.Email), r.req.Policy.Instruction)
	if err != nil {
		found = false
	}
	data := map[string]any{"found": found}
	if found {
		data["method"] = res.Method
		data["confidence"] = res.Confidence
	}
	r.rec.Add("lane3."+StatePINExtraction, data)
	return res, found
}

func (r *run) drive(ctx context.Context, s browser.Session) (acquire.Document, error) {
	opts := r.req.Policy.Portal

	r.state = StateNavigate
	if err := withTimeout(ctx, r.to.Navigate, func(c context.Context) error { return s.Navigate(c, r.target) }); err != nil {
		return acquire.Document{}, err
	}
	r.rec.Add("lane3."+StateNavigate, map[string]any{"url": util.RedactSecrets(r.target)})

	page := r.html(ctx, s)
	sig := r.lane.Detect(page)

	pinEntered := false
	if sig.Kind == interaction.KindLogin && opts.PINSelector == "" {
		return acquire.Document{}, errLoginRequired
	}
	if sig.Kind == interaction.KindPIN || opts.PINSelector != "" {
		r.state = StatePINEntry
		if r.pin == "" {
			return acquire.Document{}, errPINPrompt
		}
		input := firstNonEmpty(opts.PINSelector, sig.InputSelector)
		if err := withTimeout(ctx, r.to.Step, func(c context.Context) error { return s.Fill(c, input, r.pin) }); err != nil {
			return acquire.Document{}, err
		}
		r.rec.Add("lane3."+StatePINEntry, map[string]any{"selector": input})
		pinEntered = true

		r.state = StateSubmit
		submit := firstNonEmpty(opts.SubmitSelector, sig.SubmitSelector)
		err := withTimeout(ctx, r.to.Step, func(c context.Context) error {
			if submit != "" {
				return s.Click(c, submit)
			}
			return s.Submit(c, input)
		})
		if err != nil {
			return acquire.Document{}, err
		}
		r.rec.Add("lane3."+StateSubmit, map[string]any{"selector": firstNonEmpty(submit, "form of "+input)})
	}

	r.state = StateWaitForContent
	idleErr := withTimeout(ctx, r.to.NetworkIdle, s.WaitNetworkIdle)
	if ctx.Err() != nil {
		return acquire.Document{}, ctx.Err()
	}
	data := map[string]any{"network_idle": idleErr == nil}
	if idleErr != nil {
		data["warning"] = util.RedactSecrets(idleErr.Error())
	}
	if u, err := s.URL(ctx); err == nil {
		data["url"] = util.RedactSecrets(u)
	}
	r.rec.Add("lane3."+StateWaitForContent, data)
	if pinEntered {
		if after := r.lane.Detect(r.html(ctx, s)); after.Kind == interaction.KindPIN {
			return acquire.Document{}, errPINRejected
		}
	}

	r.state = StatePDFAcquisition
	buf, err := r.acquirePDF(ctx, s, opts)
	if err != nil {
		return acquire.Document{}, err
	}
	return acquire.Document{
		Name:      DocumentName(r.target),
		Content:   buf,
		SourceURL: r.target,
		Lane:      acquire.LaneInteractive,
	}, nil
}

// acquirePDF tries each strategy in order and stops at the first PDF.
func (r *run) acquirePDF(ctx context.Context, s browser.Session, opts acquire.PortalOptions) ([]byte, error) {
	attempt := func(strategy string, fn func() ([]byte, error)) ([]byte, bool) {
		buf, err := fn()
		data := map[string]any{"strategy": strategy, "ok": err == nil && acquire.IsPDF(buf)}
		switch {
		case err != nil:
			data["error"] = r.redact(err.Error())
		case !acquire.IsPDF(buf):
			data["error"] = "not a PDF"
		}
		r.rec.Add("lane3."+StatePDFAcquisition, data)
		return buf, err == nil && acquire.IsPDF(buf)
	}

	if buf, ok := attempt(StrategyInterceptedDownload, func() ([]byte, error) {
		return s.TakeDownload(ctx, r.to.DownloadGrace)
	}); ok {
		return buf, nil
	}

	sel := opts.DownloadSelector
	if sel == "" {
		sel = interaction.DownloadSelector(r.html(ctx, s))
	}
	if sel != "" {
		if buf, ok := attempt(StrategyDownloadButton, func() ([]byte, error) {
			if err := withTimeout(ctx, r.to.Step, func(c context.Context) error { return s.Click(c, sel) }); err != nil {
				return nil, err
			}
			return s.TakeDownload(ctx, r.to.Download)
		}); ok {
			return buf, nil
		}
	}

	if buf, ok := attempt(StrategyPrintToPDF, func() ([]byte, error) {
		var out []byte
		err := withTimeout(ctx, r.to.Print, func(c context.Context) error {
			var err error
			out, err = s.PrintPDF(c)
			return err
		})
		return out, err
	}); ok {
		return buf, nil
	}
	return nil, errNoPDFStrategy
}

func (r *run) html(ctx context.Context, s browser.Session) string {
	var page string
	_ = withTimeout(ctx, r.to.Step, func(c context.Context) error {
		var err error
		page, err = s.HTML(c)
		return err
	})
	return page
}

func (r *run) escalate(err error) acquire.LaneResult {
	var le *browser.LaunchError
	if errors.As(err, &le) {
		r.state = StateBrowserLaunch
	}
	msg := r.redact(err.Error())
	r.rec.Add("lane3."+StateError, map[string]any{"state": r.state, "error": msg})
	r.log.Warn("lane3 failed", zap.String("state", r.state), zap.String("error", msg))
	return acquire.LaneResult{
		Outcome: acquire.Escalate{
			Reason: fmt.Sprintf("lane3 %s failed: %s", r.state, msg),
			Next:   acquire.LaneAgentic,
			Target: r.target,
		},
		Trace: r.rec.Entries(),
	}
}

func (r *run) fail(err error) acquire.LaneResult {
	r.rec.Add("lane3."+StateError, map[string]any{"state": r.state, "error": err.Error()})
	return acquire.LaneResult{Outcome: acquire.Fail{Err: err}, Trace: r.rec.Entries()}
}

func (r *run) redact(s string) string {
	return util.RedactSecrets(util.RedactValue(s, r.pin))
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(c)
}

// DocumentName derives a stable file name from the portal URL.
func DocumentName(rawURL string) string {
	host := "portal"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ReplaceAll(u.Hostname(), ".", "-")
	}
	sum := sha256.Sum256([]byte(rawURL))
	return fmt.Sprintf("%s-%s.pdf", host, hex.EncodeToString(sum[:])[:12])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstEmailLink(email *acquire.InboundEmail) string {
	if ls := links.FromEmail(email); len(ls) > 0 {
		return ls[0].URL
	}
	return ""
}
