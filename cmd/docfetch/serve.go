package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/dedupe"
	"github.com/shpitdev/docfetch/internal/queue"
	"github.com/shpitdev/docfetch/internal/server"
)

func newServeCmd(st *state) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept inbound emails over HTTP and queue them for workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				st.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), st)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, st *state) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, logger := st.cfg, st.logger

	q, err := queue.Connect(ctx, natsConfig(st), logger)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	var seen dedupe.Store = dedupe.Disabled{}
	if cfg.Redis.Enabled {
		client, err := dedupe.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		seen = dedupe.NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL)
	} else {
		logger.Warn("redis dedupe disabled, duplicate webhooks rely on queue de-duplication only")
	}

	h, err := server.NewHandler(seen, q, server.Options{
		Token:        cfg.Server.Token,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
		Ready:        q.Healthy,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	logger.Info("serving webhook", zap.String("addr", cfg.Server.Addr), zap.Bool("auth", cfg.Server.Token != ""))
	return server.Serve(ctx, srv, cfg.Server.ShutdownGrace, logger)
}

func natsConfig(st *state) queue.Config {
	c := st.cfg.NATS
	return queue.Config{
		URL:           c.URL,
		Token:         c.Token,
		Stream:        c.Stream,
		ResultsStream: c.ResultsStream,
		Consumer:      c.Consumer,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
		NakDelay:      c.NakDelay,
	}
}
