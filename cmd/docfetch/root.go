package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/config"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/version"
)

// state is loaded once by the root command before any subcommand runs.
type state struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:   "docfetch",
		Short: "Acquire source documents from inbound notification emails",
		Long: `docfetch turns inbound notification emails into the PDFs they point at.

Each email is routed to the cheapest lane that can produce its document: the PDF
attachment, a direct download link, or a browser session against the sender's portal,
escalating to the next lane when one cannot finish.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return st.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if st.logger != nil {
				_ = st.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&st.cfgFile, "config", "", "config file (YAML); DOCFETCH_* environment variables override it")

	root.AddCommand(
		newServeCmd(st),
		newWorkerCmd(st),
		newRunCmd(st),
		newVersionCmd(),
	)
	return root
}

func (st *state) load() error {
	cfg, err := config.Load(st.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	st.cfg = cfg
	st.logger = logger.With(zap.String("version", version.Current))
	return nil
}
