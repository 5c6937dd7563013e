//go:build browser_e2e

package portal_test

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/browser"
	"github.com/shpitdev/docfetch/internal/lanes/portal"
	"github.com/shpitdev/docfetch/internal/mockportal"
)

func TestRun_RealChrome_MockPortal(t *testing.T) {
	mock := mockportal.New("731904")
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)

	launcher := browser.NewChromeLauncher(browser.ChromeConfig{
		ExecPath:  os.Getenv("CHROME_PATH"),
		Headless:  true,
		NoSandbox: os.Getenv("CHROME_NO_SANDBOX") != "",
	}, nil)

	req := acquire.Request{
		Email: &acquire.InboundEmail{
			MessageID: "e2e-1",
			Subject:   "Your statement is ready",
			TextBody:  "Use access code 731904 at " + srv.URL + "/portal",
		},
		Policy: acquire.DefaultPolicy(),
		Target: srv.URL + "/portal",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := portal.Lane{Launcher: launcher}.Run(ctx, req)
	require.True(t, res.Succeeded(), "outcome: %#v trace: %#v", res.Outcome, res.Trace)
	docs := res.Outcome.(acquire.Success).Documents
	require.Len(t, docs, 1)
	require.True(t, acquire.IsPDF(docs[0].Content))
	require.Equal(t, 1, mock.CallsTo("/portal/unlock"))
}
