// Package browser drives a headless browser for portal automation.
package browser

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoDownload is returned by Session.TakeDownload when no download completed in time.
var ErrNoDownload = eris.New("no download captured")

// Session is one browser tab. Implementations need not be safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Fill replaces the value of the field matched by selector.
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Submit submits the form that owns selector.
	Submit(ctx context.Context, selector string) error
	// WaitNetworkIdle blocks until the page stops loading resources.
	WaitNetworkIdle(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// TakeDownload returns the next completed download, waiting at most wait for one
	// to finish. Downloads started during earlier navigation are included.
	TakeDownload(ctx context.Context, wait time.Duration) ([]byte, error)
	PrintPDF(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// WithSession launches a session, runs fn, and closes the session on every path,
// including panics in fn.
func WithSession(ctx context.Context, l Launcher, fn func(Session) error) (err error) {
	if l == nil {
		return eris.New("no browser launcher configured")
	}
	s, err := l.Launch(ctx)
	if err != nil {
		return eris.Wrap(err, "launch browser")
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "close browser")
		}
	}()
	return fn(s)
}

// LaunchError marks a failure to acquire a session, as opposed to a failure while
// using one.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	if e == nil || e.Err == nil {
		return "browser launch failed"
	}
	return "browser launch failed: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
