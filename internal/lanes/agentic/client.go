// Package agentic is the last-resort Lane 3 backend: a remote agent service that plans
// its own navigation toward the document.
package agentic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/fetch"
	"github.com/shpitdev/docfetch/internal/util"
)

// ErrTaskFailed reports that the agent finished without a document.
var ErrTaskFailed = eris.New("agent task failed")

// Task statuses reported by the service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Task is what the agent is asked to do.
type Task struct {
	URL  string `json:"url"`
	Goal string `json:"goal"`
	// PIN is sent to the agent but never logged.
	PIN     string            `json:"pin,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// Step is one action the agent reports having taken.
type Step struct {
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"timestamp"`
}

// TaskState is the service's view of a task. PDF is base64 on the wire.
type TaskState struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	PDF      []byte `json:"pdf_base64,omitempty"`
	Filename string `json:"filename,omitempty"`
	Steps    []Step `json:"steps,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Done reports whether the task reached a terminal status.
func (s TaskState) Done() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

// Agent runs a task to completion.
type Agent interface {
	Run(ctx context.Context, task Task) (TaskState, error)
}

// Config configures Client.
type Config struct {
	BaseURL string
	APIKey  string
	// TaskTimeout bounds a whole task including polling.
	TaskTimeout time.Duration
	// RequestTimeout bounds each HTTP call.
	RequestTimeout time.Duration
	PollInitial    time.Duration
	PollMax        time.Duration
}

func (c Config) withDefaults() Config {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 3 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PollInitial <= 0 {
		c.PollInitial = 500 * time.Millisecond
	}
	if c.PollMax <= 0 {
		c.PollMax = 5 * time.Second
	}
	return c
}

// Client talks to the agent service over HTTP:
//
//	POST /v1/tasks       -> TaskState (queued)
//	GET  /v1/tasks/{id}  -> TaskState
type Client struct {
	cfg  Config
	base *url.URL
	hc   *http.Client
}

func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	cfg = cfg.withDefaults()
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, eris.New("agent base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Errorf("invalid agent base url %q", cfg.BaseURL)
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, base: u, hc: hc}, nil
}

// Run submits task and polls until it is done, the task timeout elapses or ctx ends.
func (c *Client) Run(ctx context.Context, task Task) (TaskState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	body, err := json.Marshal(task)
	if err != nil {
		return TaskState{}, eris.Wrap(err, "encode agent task")
	}
	st, err := c.do(ctx, http.MethodPost, "/v1/tasks", body)
	if err != nil {
		return TaskState{}, eris.Wrap(err, "submit agent task")
	}
	if strings.TrimSpace(st.ID) == "" {
		return TaskState{}, eris.New("agent returned a task without id")
	}

	sleep := c.cfg.PollInitial
	for !st.Done() {
		t := time.NewTimer(jitter(sleep))
		select {
		case <-ctx.Done():
			t.Stop()
			return st, eris.Wrapf(ctx.Err(), "agent task %s still %s", st.ID, st.Status)
		case <-t.C:
		}
		next, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(st.ID), nil)
		if err != nil {
			var he *fetch.HTTPError
			if errors.As(err, &he) && he.Temporary() {
				sleep = grow(sleep, c.cfg.PollMax)
				continue
			}
			return st, eris.Wrapf(err, "poll agent task %s", st.ID)
		}
		st = next
		sleep = grow(sleep, c.cfg.PollMax)
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (TaskState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return TaskState{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return TaskState{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return TaskState{}, eris.Wrap(err, "read agent response")
	}
	if resp.StatusCode/100 != 2 {
		return TaskState{}, fetch.NewHTTPError(method+" agent", u.String(), resp, b)
	}
	var st TaskState
	if err := json.Unmarshal(b, &st); err != nil {
		return TaskState{}, eris.Wrapf(err, "decode agent response (body=%s)", util.Truncate(util.RedactSecrets(string(b)), 128))
	}
	return st, nil
}

// Document validates a finished task's PDF.
func (s TaskState) Document(target string) (acquire.Document, error) {
	if s.Status != StatusSucceeded {
		msg := strings.TrimSpace(s.Error)
		if msg == "" {
			msg = "status " + s.Status
		}
		return acquire.Document{}, eris.Wrapf(ErrTaskFailed, "task %s: %s", s.ID, util.RedactSecrets(msg))
	}
	if !acquire.IsPDF(s.PDF) {
		return acquire.Document{}, eris.Wrapf(ErrTaskFailed, "task %s returned %d bytes that are not a PDF", s.ID, len(s.PDF))
	}
	return acquire.Document{Content: s.PDF, SourceURL: target, Lane: acquire.LaneAgentic}, nil
}

func grow(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	// +/-20%
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}
