package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shpitdev/docfetch/internal/app"
	"github.com/shpitdev/docfetch/internal/pipeline"
)

type runFlags struct {
	inputs     []string
	out        string
	summary    string
	workers    int
	maxRetries int
	failFast   bool
}

func newRunCmd(st *state) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process local .eml/.json messages and write their documents to a directory",
		Example: `  docfetch run --input ./inbox --out ./documents --summary summary.csv
  docfetch run --input bill.eml --input notice.json --out /tmp/docs`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("workers") {
				st.cfg.Pipeline.Workers = f.workers
			}
			if cmd.Flags().Changed("max-retries") {
				st.cfg.Pipeline.MaxRetries = f.maxRetries
			}
			if cmd.Flags().Changed("fail-fast") {
				st.cfg.Pipeline.FailFast = f.failFast
			}
			return runLocal(cmd.Context(), st, f)
		},
	}
	cmd.Flags().StringSliceVar(&f.inputs, "input", nil, "message file or directory (repeatable)")
	cmd.Flags().StringVar(&f.out, "out", "", "directory for acquired documents (selects local storage)")
	cmd.Flags().StringVar(&f.summary, "summary", "", "write a per-message summary CSV to this path")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent messages (overrides pipeline.workers)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "retries for transient failures (overrides pipeline.max_retries)")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "stop at the first message that errors")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runLocal(ctx context.Context, st *state, f *runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := st.cfg
	if f.out != "" {
		cfg.Storage.Backend = "local"
		cfg.Storage.Dir = f.out
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svc, err := app.NewService(ctx, cfg, st.logger)
	if err != nil {
		return err
	}
	rows, err := app.RunLocal(ctx, svc, f.inputs, f.summary, pipeline.Options{
		Workers:      cfg.Pipeline.Workers,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		ItemTimeout:  cfg.Pipeline.ItemTimeout,
		RateLimitRPS: cfg.Pipeline.RateLimitRPS,
		FailFast:     cfg.Pipeline.FailFast,
		Logger:       st.logger,
	})
	if err != nil {
		return err
	}

	counts := pipeline.Counts(rows)
	_, _ = fmt.Fprintf(os.Stdout, "processed %d messages: ok=%d failed=%d error=%d\n",
		len(rows), counts[pipeline.StatusOK], counts[pipeline.StatusFailed], counts[pipeline.StatusError])
	if counts[pipeline.StatusError] > 0 {
		return eris.Errorf("%d messages could not be processed", counts[pipeline.StatusError])
	}
	return nil
}
