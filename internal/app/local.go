package app

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/mail"
	"github.com/shpitdev/docfetch/internal/pipeline"
)

// RunLocal processes every .eml/.json message found in inputs and, when summaryPath is
// set, writes one summary row per message to it.
func RunLocal(ctx context.Context, svc *Service, inputs []string, summaryPath string, opts pipeline.Options) ([]pipeline.Row, error) {
	logger := logging.OrNop(opts.Logger).With(zap.String("run_id", uuid.NewString()))
	opts.Logger = logger
	runStart := time.Now()

	files, err := mail.Expand(inputs)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.New("no .eml or .json messages found in input")
	}
	logger.Info("local run start",
		zap.Int("messages", len(files)),
		zap.Int("workers", opts.Workers),
		zap.Int("max_retries", opts.MaxRetries),
		zap.Duration("item_timeout", opts.ItemTimeout),
		zap.Bool("fail_fast", opts.FailFast),
	)

	rows, err := pipeline.Process(ctx, files, func(ctx context.Context, path string) (pipeline.Row, error) {
		email, err := mail.LoadFile(path)
		if err != nil {
			return pipeline.Row{}, err
		}
		out, err := svc.Process(ctx, &email)
		if err != nil {
			return pipeline.Row{}, err
		}
		return pipeline.NewRow(path, email.Sender(), out.Result, out.Locations), nil
	}, opts)
	if err != nil {
		return nil, err
	}

	if summaryPath != "" {
		if err := writeSummary(summaryPath, rows); err != nil {
			return rows, err
		}
	}

	counts := pipeline.Counts(rows)
	logger.Info("local run complete",
		zap.Int("ok", counts[pipeline.StatusOK]),
		zap.Int("failed", counts[pipeline.StatusFailed]),
		zap.Int("error", counts[pipeline.StatusError]),
		zap.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
	)
	return rows, nil
}

func writeSummary(path string, rows []pipeline.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create summary %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := pipeline.WriteCSV(f, rows); err != nil {
		return err
	}
	return eris.Wrap(f.Close(), "close summary")
}
