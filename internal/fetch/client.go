// Package fetch is the HTTP side of Lane 2: probing, fetching pages, and downloading PDFs.
package fetch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shpitdev/docfetch/internal/acquire"
)

var (
	ErrNotPDF      = eris.New("response is not a PDF")
	ErrTooLarge    = eris.New("response exceeds size limit")
	ErrTooManyHops = eris.New("too many redirects")
	errInvalidURL  = eris.New("invalid url")
)

const (
	defaultAccept   = "application/pdf,text/html;q=0.9,*/*;q=0.8"
	defaultUA       = "docfetch/1.0 (+https://github.com/shpitdev/docfetch)"
	sniffBytes      = 1024
	defaultPDFLimit = 25 << 20
	defaultHTMLCap  = 2 << 20
)

// Config controls the HTTP client.
type Config struct {
	// Timeout bounds each request including body read.
	Timeout      time.Duration
	MaxPDFBytes  int64
	MaxHTMLBytes int64
	UserAgent    string

	// RateLimitRPS is a limit across all requests of this client. Set to <=0 to disable.
	RateLimitRPS float64
	Burst        int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      20 * time.Second,
		MaxPDFBytes:  defaultPDFLimit,
		MaxHTMLBytes: defaultHTMLCap,
		UserAgent:    defaultUA,
		RateLimitRPS: 5,
		Burst:        5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxPDFBytes <= 0 {
		c.MaxPDFBytes = d.MaxPDFBytes
	}
	if c.MaxHTMLBytes <= 0 {
		c.MaxHTMLBytes = d.MaxHTMLBytes
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Redirects is the per-call redirect policy.
type Redirects struct {
	Follow bool
	Max    int
}

// RedirectsFrom maps a policy to the fetcher's redirect settings.
func RedirectsFrom(p acquire.DirectOptions) Redirects {
	return Redirects{Follow: p.FollowRedirects, Max: p.MaxRedirects}
}

// Probe is what a lightweight request learned about a URL.
type Probe struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Accessible  bool
	IsPDF       bool
	IsHTML      bool
}

// Download is a fetched PDF.
type Download struct {
	Content  []byte
	Filename string
	FinalURL string
}

// Client performs the network calls of Lane 2.
type Client struct {
	hc      *http.Client
	cfg     Config
	limiter *rate.Limiter
}

// New returns a Client. hc may be nil.
func New(cfg Config, hc *http.Client) *Client {
	cfg = cfg.withDefaults()
	if hc == nil {
		hc = &http.Client{}
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.Burst)
	}
	return &Client{hc: hc, cfg: cfg, limiter: limiter}
}

// Probe issues a HEAD request and falls back to a small ranged GET when the server
// refuses HEAD or does not say what the resource is.
func (c *Client) Probe(ctx context.Context, rawURL string, rd Redirects) (Probe, error) {
	p := Probe{URL: rawURL}
	resp, err := c.do(ctx, http.MethodHead, rawURL, rd, nil)
	if err == nil {
		_ = resp.Body.Close()
		p.fill(resp)
		if p.Accessible && p.ContentType != "" && p.ContentType != "application/octet-stream" {
			return p, nil
		}
	}

	resp, err = c.do(ctx, http.MethodGet, rawURL, rd, http.Header{"Range": {"bytes=0-1023"}})
	if err != nil {
		return p, err
	}
	defer resp.Body.Close()
	head, _ := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	p = Probe{URL: rawURL}
	p.fill(resp)
	if !p.Accessible {
		return p, nil
	}
	if acquire.IsPDF(head) {
		p.IsPDF = true
		p.IsHTML = false
	} else if p.ContentType == "" || p.ContentType == "application/octet-stream" {
		sniffed := mediaType(http.DetectContentType(head))
		p.IsHTML = sniffed == "text/html"
	}
	return p, nil
}

func (p *Probe) fill(resp *http.Response) {
	p.StatusCode = resp.StatusCode
	p.Accessible = resp.StatusCode/100 == 2
	p.ContentType = mediaType(resp.Header.Get("Content-Type"))
	if resp.Request != nil && resp.Request.URL != nil {
		p.FinalURL = resp.Request.URL.String()
	}
	switch p.ContentType {
	case "application/pdf", "application/x-pdf":
		p.IsPDF = true
	case "text/html", "application/xhtml+xml":
		p.IsHTML = true
	case "application/octet-stream", "binary/octet-stream":
		p.IsPDF = acquire.HasPDFPath(p.FinalURL) || acquire.HasPDFPath(p.URL)
	}
}

// FetchHTML returns the body of an HTML page, capped at MaxHTMLBytes.
func (c *Client) FetchHTML(ctx context.Context, rawURL string, rd Redirects) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, rd, http.Header{"Accept": {"text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"}})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", NewHTTPError("fetch page", rawURL, resp, body)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxHTMLBytes))
	if err != nil {
		return "", eris.Wrapf(err, "read page")
	}
	return string(body), nil
}

// DownloadPDF fetches rawURL and verifies it is a PDF within MaxPDFBytes.
func (c *Client) DownloadPDF(ctx context.Context, rawURL string, rd Redirects) (Download, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, rd, http.Header{"Accept": {"application/pdf,application/octet-stream;q=0.9,*/*;q=0.5"}})
	if err != nil {
		return Download{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Download{}, NewHTTPError("download", rawURL, resp, body)
	}
	if resp.ContentLength > c.cfg.MaxPDFBytes {
		return Download{}, eris.Wrapf(ErrTooLarge, "%d bytes", resp.ContentLength)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxPDFBytes+1))
	if err != nil {
		return Download{}, eris.Wrap(err, "read pdf")
	}
	if int64(len(body)) > c.cfg.MaxPDFBytes {
		return Download{}, ErrTooLarge
	}
	if !acquire.IsPDF(body) {
		return Download{}, eris.Wrapf(ErrNotPDF, "content-type=%q", mediaType(resp.Header.Get("Content-Type")))
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return Download{
		Content:  body,
		Filename: filenameFor(resp.Header.Get("Content-Disposition"), final),
		FinalURL: final,
	}, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, rd Redirects, extra http.Header) (*http.Response, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, eris.Wrapf(errInvalidURL, "%q", rawURL)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), nil)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", defaultAccept)
	for k, vs := range extra {
		req.Header[k] = vs
	}

	hc := *c.hc
	hc.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if !rd.Follow {
			return http.ErrUseLastResponse
		}
		if len(via) > rd.Max {
			return ErrTooManyHops
		}
		return nil
	}

	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, eris.Wrapf(err, "%s", method)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

func filenameFor(disposition, finalURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/")); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if u, err := url.Parse(finalURL); err == nil {
		if base := path.Base(u.Path); strings.EqualFold(path.Ext(base), ".pdf") {
			return base
		}
	}
	return ""
}
