package app

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
	"github.com/shpitdev/docfetch/internal/advisor/gemini"
	"github.com/shpitdev/docfetch/internal/browser"
	"github.com/shpitdev/docfetch/internal/config"
	"github.com/shpitdev/docfetch/internal/decision"
	"github.com/shpitdev/docfetch/internal/fetch"
	"github.com/shpitdev/docfetch/internal/interaction"
	"github.com/shpitdev/docfetch/internal/lanes/agentic"
	"github.com/shpitdev/docfetch/internal/lanes/attachment"
	"github.com/shpitdev/docfetch/internal/lanes/direct"
	"github.com/shpitdev/docfetch/internal/lanes/portal"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/orchestrator"
	"github.com/shpitdev/docfetch/internal/storage"
)

// Advisors returns the link classifier and PIN extractor. Without a Gemini key the
// deterministic heuristics are used directly; with one, the remote advisor is rate
// limited and wrapped in the heuristic fallback.
func Advisors(ctx context.Context, cfg *config.Config, logger *zap.Logger) (advisor.LinkClassifier, advisor.PINExtractor, error) {
	logger = logging.OrNop(logger)
	if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
		logger.Info("no gemini api key configured, using heuristic advisors")
		return advisor.HeuristicClassifier{}, advisor.RegexPINExtractor{}, nil
	}
	gem, err := gemini.New(ctx, gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	limiter := advisor.NewLimiter(cfg.Advisor.RateLimitRPS, cfg.Advisor.Burst)
	classifier := advisor.FallbackClassifier{
		Primary: advisor.RateLimitedClassifier{Next: gem, Limiter: limiter},
		Timeout: cfg.Advisor.Timeout,
		Logger:  logger,
	}
	pin := advisor.FallbackPINExtractor{
		Primary: advisor.RateLimitedPINExtractor{Next: gem, Limiter: limiter},
		Timeout: cfg.Advisor.Timeout,
		Logger:  logger,
	}
	logger.Info("gemini advisors enabled", zap.String("model", gem.Model()))
	return classifier, pin, nil
}

// Lanes builds the lane handlers. The agentic lane is only registered when an agent
// service is configured.
func Lanes(cfg *config.Config, pin advisor.PINExtractor, logger *zap.Logger) (map[acquire.Lane]acquire.Handler, error) {
	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxPDFBytes:  cfg.Fetch.MaxPDFBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		RateLimitRPS: cfg.Fetch.RateLimitRPS,
		Burst:        cfg.Fetch.Burst,
	}, nil)

	launcher := browser.NewChromeLauncher(browser.ChromeConfig{
		ExecPath:    cfg.Browser.ExecPath,
		Headless:    cfg.Browser.Headless,
		NoSandbox:   cfg.Browser.NoSandbox,
		UserAgent:   cfg.Fetch.UserAgent,
		DownloadDir: cfg.Browser.DownloadDir,
		IdleTimeout: cfg.Browser.NetworkIdleTimeout,
	}, logger)

	lanes := map[acquire.Lane]acquire.Handler{
		acquire.LaneAttachments: attachment.Lane{},
		acquire.LaneDirect: direct.Lane{
			Fetcher: fetcher,
			Detect:  interaction.Detect,
			Logger:  logger,
		},
		acquire.LaneInteractive: portal.Lane{
			Launcher: launcher,
			PIN:      pin,
			Detect:   interaction.Detect,
			Timeouts: portal.Timeouts{
				Launch:      cfg.Browser.LaunchTimeout,
				Navigate:    cfg.Browser.NavigateTimeout,
				Step:        cfg.Browser.StepTimeout,
				NetworkIdle: cfg.Browser.NetworkIdleTimeout,
				Download:    cfg.Browser.DownloadTimeout,
				Print:       cfg.Browser.PrintTimeout,
			},
			Logger: logger,
		},
	}

	if strings.TrimSpace(cfg.Agent.BaseURL) != "" {
		client, err := agentic.NewClient(agentic.Config{
			BaseURL:        cfg.Agent.BaseURL,
			APIKey:         cfg.Agent.APIKey,
			TaskTimeout:    cfg.Agent.TaskTimeout,
			RequestTimeout: cfg.Agent.RequestTimeout,
		}, nil)
		if err != nil {
			return nil, err
		}
		lanes[acquire.LaneAgentic] = agentic.Lane{Agent: client, PIN: pin, Logger: logger}
	}
	return lanes, nil
}

// Sink opens the configured document store. The "none" backend returns nil.
func Sink(ctx context.Context, cfg *config.Config) (storage.Sink, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storage.Dir{Root: cfg.Storage.Dir}, nil
	case "minio":
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case "none":
		return nil, nil
	}
	return nil, eris.Errorf("invalid storage backend %q", cfg.Storage.Backend)
}

// NewService assembles a Service from configuration. Result publishing is left to the
// caller because only the worker has a queue.
func NewService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	logger = logging.OrNop(logger)

	policies, err := config.LoadPolicies(cfg.Policies.File)
	if err != nil {
		return nil, err
	}
	classifier, pin, err := Advisors(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	lanes, err := Lanes(cfg, pin, logger)
	if err != nil {
		return nil, err
	}
	sink, err := Sink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(
		decision.New(classifier, logger),
		lanes,
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxHops(cfg.Pipeline.MaxHops),
	)
	logger.Info("service ready",
		zap.Int("sender_policies", policies.Len()),
		zap.Int("lanes", len(lanes)),
		zap.String("storage", cfg.Storage.Backend),
	)
	return &Service{
		Runner:     orch,
		Policies:   policies,
		Sink:       sink,
		Prefix:     cfg.Storage.Prefix,
		JobTimeout: cfg.Pipeline.ItemTimeout,
		Logger:     logger,
	}, nil
}
