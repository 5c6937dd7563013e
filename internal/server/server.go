// Package server is the webhook boundary: it accepts inbound emails and queues them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/dedupe"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/metrics"
	"github.com/shpitdev/docfetch/internal/queue"
	"github.com/shpitdev/docfetch/internal/util"
)

const DefaultMaxBodyBytes = 32 << 20

// JobPublisher enqueues accepted emails.
type JobPublisher interface {
	PublishJob(ctx context.Context, job queue.Job) error
}

// Options configures a Handler.
type Options struct {
	// Token, when set, is required as a bearer token on POST /v1/inbound.
	Token        string
	MaxBodyBytes int64
	Logger       *zap.Logger
	// Ready reports downstream health for /readyz. Nil means always ready.
	Ready func() bool
	Now   func() time.Time
}

type Handler struct {
	seen  dedupe.Store
	pub   JobPublisher
	opts  Options
	log   *zap.Logger
	now   func() time.Time
	ready func() bool
}

func NewHandler(seen dedupe.Store, pub JobPublisher, opts Options) (*Handler, error) {
	if pub == nil {
		return nil, eris.New("job publisher is required")
	}
	if seen == nil {
		seen = dedupe.Disabled{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &Handler{
		seen:  seen,
		pub:   pub,
		opts:  opts,
		log:   logging.OrNop(opts.Logger),
		now:   opts.Now,
		ready: opts.Ready,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.ready == nil {
		h.ready = func() bool { return true }
	}
	return h, nil
}

// Response is the JSON body returned by POST /v1/inbound.
type Response struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewRouter registers the webhook, health and metrics routes.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/inbound", h.HandleInbound)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.reject(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	var email acquire.InboundEmail
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&email); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, "invalid", "request body too large")
			return
		}
		h.reject(w, http.StatusBadRequest, "invalid", "invalid JSON body")
		return
	}
	if err := validate(email); err != nil {
		h.reject(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}

	ctx := r.Context()
	log := h.log.With(zap.String("message_id", email.MessageID))

	fresh, err := h.seen.Claim(ctx, email.MessageID)
	if err != nil {
		log.Error("dedupe claim failed", zap.Error(err))
		h.reject(w, http.StatusServiceUnavailable, "error", "temporarily unavailable")
		return
	}
	if !fresh {
		metrics.WebhookRequests.WithLabelValues("duplicate").Inc()
		log.Info("duplicate inbound email ignored")
		writeJSON(w, http.StatusOK, Response{Status: "duplicate", MessageID: email.MessageID})
		return
	}

	job := queue.Job{ID: uuid.NewString(), Email: email, ReceivedAt: h.now().UTC()}
	if err := h.pub.PublishJob(ctx, job); err != nil {
		log.Error("publish job failed", zap.String("error", util.RedactSecrets(err.Error())))
		if rerr := h.seen.Release(context.WithoutCancel(ctx), email.MessageID); rerr != nil {
			log.Warn("release dedupe claim failed", zap.Error(rerr))
		}
		h.reject(w, http.StatusServiceUnavailable, "error", "temporarily unavailable")
		return
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	log.Info("inbound email queued",
		zap.String("job_id", job.ID),
		zap.String("sender", email.Sender()),
		zap.Int("attachments", len(email.Attachments)),
	)
	writeJSON(w, http.StatusAccepted, Response{Status: "accepted", MessageID: email.MessageID, JobID: job.ID})
}

func validate(e acquire.InboundEmail) error {
	if strings.TrimSpace(e.MessageID) == "" {
		return eris.New("message_id is required")
	}
	if e.Sender() == "" {
		return eris.New("from is required")
	}
	return nil
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.opts.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.opts.Token
}

func (h *Handler) reject(w http.ResponseWriter, status int, result, msg string) {
	metrics.WebhookRequests.WithLabelValues(result).Inc()
	writeJSON(w, status, Response{Status: result, Error: msg})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs srv until ctx is done, then shuts it down within grace.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "shutdown http server")
	}
	logger.Info("http server stopped")
	return nil
}
