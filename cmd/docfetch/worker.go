package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shpitdev/docfetch/internal/app"
	"github.com/shpitdev/docfetch/internal/queue"
)

func newWorkerCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued emails and acquire their documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), st)
		},
	}
}

func runWorker(ctx context.Context, st *state) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.NewService(ctx, st.cfg, st.logger)
	if err != nil {
		return err
	}
	q, err := queue.Connect(ctx, natsConfig(st), st.logger)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	svc.Results = q
	return q.Consume(ctx, svc.HandleJob)
}
