// Package pipeline runs acquisition over a batch of stored emails and summarizes the
// outcome per email.
package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/pipeline/worker"
	"github.com/shpitdev/docfetch/internal/util"
)

// Row is the stable summary schema for one email.
type Row struct {
	Source             string
	MessageID          string
	Sender             string
	Status             string
	Lane               string
	Documents          int
	Names              string
	Keys               string
	RequiresEscalation bool
	EscalationReason   string
	Error              string
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusError  = "error"
)

type Options struct {
	Workers      int
	MaxRetries   int
	ItemTimeout  time.Duration
	RateLimitRPS float64
	FailFast     bool
	Logger       *zap.Logger
}

// Header returns the stable CSV header for Row.
func Header() []string {
	return []string{
		"source",
		"message_id",
		"sender",
		"status",
		"lane",
		"documents",
		"names",
		"keys",
		"requires_escalation",
		"escalation_reason",
		"error",
	}
}

func (r Row) values() []string {
	return []string{
		r.Source,
		r.MessageID,
		r.Sender,
		r.Status,
		r.Lane,
		strconv.Itoa(r.Documents),
		r.Names,
		r.Keys,
		strconv.FormatBool(r.RequiresEscalation),
		r.EscalationReason,
		r.Error,
	}
}

// NewRow summarizes a pipeline result. keys are the storage keys of the documents, in
// document order.
func NewRow(source, sender string, res acquire.Result, keys []string) Row {
	names := make([]string, 0, len(res.Documents))
	for _, d := range res.Documents {
		names = append(names, d.Name)
	}
	status := StatusFailed
	if res.Success {
		status = StatusOK
	}
	return Row{
		Source:             source,
		MessageID:          res.MessageID,
		Sender:             sender,
		Status:             status,
		Lane:               string(res.Lane),
		Documents:          len(res.Documents),
		Names:              jsonArrayOrEmpty(names),
		Keys:               jsonArrayOrEmpty(keys),
		RequiresEscalation: res.RequiresEscalation,
		EscalationReason:   util.RedactSecrets(res.EscalationReason),
		Error:              util.RedactSecrets(res.Error),
	}
}

// Process runs fn over every source. A failed result is a normal row; an error from fn
// (the email could not be loaded or stored) becomes a row with status "error" unless
// FailFast is set.
func Process(ctx context.Context, sources []string, fn func(context.Context, string) (Row, error), opts Options) ([]Row, error) {
	policy := worker.ContinueOnError
	if opts.FailFast {
		policy = worker.StopOnError
	}

	out, err := worker.Run(ctx, sources, fn, worker.Options{
		Workers:           opts.Workers,
		MaxRetries:        opts.MaxRetries,
		ItemTimeout:       opts.ItemTimeout,
		RateLimitRPS:      opts.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		BackoffJitterFrac: 0.2,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, eris.Wrap(err, "process batch")
	}

	rows := make([]Row, 0, len(out))
	for _, item := range out {
		if item.Err != nil {
			rows = append(rows, Row{
				Source: strings.TrimSpace(item.Input),
				Status: StatusError,
				Error:  util.RedactSecrets(item.Err.Error()),
			})
			continue
		}
		row := item.Output
		if row.Source == "" {
			row.Source = item.Input
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows with the stable header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return eris.Wrap(err, "write header")
	}
	for _, r := range rows {
		if err := cw.Write(r.values()); err != nil {
			return eris.Wrap(err, "write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "flush csv")
}

// Counts tallies rows by status.
func Counts(rows []Row) map[string]int {
	out := make(map[string]int, 3)
	for _, r := range rows {
		out[r.Status]++
	}
	return out
}

func jsonArrayOrEmpty(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return ""
	}
	return string(b)
}
