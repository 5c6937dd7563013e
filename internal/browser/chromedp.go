package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/logging"
)

// ChromeConfig configures ChromeLauncher.
type ChromeConfig struct {
	// ExecPath is the Chrome/Chromium binary. Empty lets chromedp search the usual places.
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// DownloadDir is the parent of per-session download directories. Empty uses os.TempDir.
	DownloadDir string
	// IdleQuiet is how long resource loading must be quiet to count as network idle.
	IdleQuiet time.Duration
	// IdleTimeout bounds WaitNetworkIdle when the caller's context has no deadline.
	IdleTimeout time.Duration
}

// ChromeLauncher starts one Chrome process per session.
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

func NewChromeLauncher(cfg ChromeConfig, logger *zap.Logger) *ChromeLauncher {
	if cfg.IdleQuiet <= 0 {
		cfg.IdleQuiet = 500 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 45 * time.Second
	}
	return &ChromeLauncher{cfg: cfg, logger: logging.OrNop(logger)}
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	dir, err := os.MkdirTemp(l.cfg.DownloadDir, "docfetch-dl-")
	if err != nil {
		return nil, &LaunchError{Err: eris.Wrap(err, "create download dir")}
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
	)
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	// The browser lives for the session, not for the launch call; only the launch
	// step itself is bounded by ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		l.logger.Sugar().Debugf(format, args...)
	}))

	s := &chromeSession{
		ctx:       tabCtx,
		cancel:    func() { tabCancel(); allocCancel() },
		dir:       dir,
		idleQuiet: l.cfg.IdleQuiet,
		idleMax:   l.cfg.IdleTimeout,
		completed: make(chan string, 8),
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	start := chromedp.ActionFunc(func(c context.Context) error {
		return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(dir).
			WithEventsEnabled(true).
			Do(c)
	})
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, start) }()
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		s.cancel()
		_ = os.RemoveAll(dir)
		return nil, &LaunchError{Err: err}
	}
	return s, nil
}

type chromeSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	dir       string
	idleQuiet time.Duration
	idleMax   time.Duration

	completed chan string
	closeOnce sync.Once
}

func (s *chromeSession) onEvent(ev any) {
	if e, ok := ev.(*browser.EventDownloadProgress); ok && e.State == browser.DownloadProgressStateCompleted {
		select {
		case s.completed <- e.GUID:
		default:
		}
	}
}

// run executes actions on the tab bounded by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, chromedp.Navigate(url))
	// Chrome aborts the navigation when the response turns into a download.
	if err != nil && strings.Contains(err.Error(), "net::ERR_ABORTED") {
		return nil
	}
	return err
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (s *chromeSession) Submit(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Submit(selector, chromedp.ByQuery))
}

const resourceCountJS = `performance.getEntriesByType("resource").length + (document.readyState === "complete" ? 0 : 100000)`

func (s *chromeSession) WaitNetworkIdle(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.idleMax)
		defer cancel()
	}
	const tick = 100 * time.Millisecond
	last, quiet := -1, time.Duration(0)
	for {
		var n int
		if err := s.run(ctx, chromedp.Evaluate(resourceCountJS, &n)); err != nil {
			return eris.Wrap(err, "poll network activity")
		}
		if n == last && n < 100000 {
			quiet += tick
			if quiet >= s.idleQuiet {
				return nil
			}
		} else {
			quiet = 0
		}
		last = n
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "network idle")
		case <-time.After(tick):
		}
	}
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, chromedp.Location(&u))
	return u, err
}

func (s *chromeSession) TakeDownload(ctx context.Context, wait time.Duration) ([]byte, error) {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case guid := <-s.completed:
		b, err := os.ReadFile(filepath.Join(s.dir, guid))
		if err != nil {
			return nil, eris.Wrap(err, "read download")
		}
		return b, nil
	case <-t.C:
		return nil, ErrNoDownload
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chromeSession) PrintPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(c)
		return err
	}))
	return buf, err
}

func (s *chromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = os.RemoveAll(s.dir)
	})
	return err
}
