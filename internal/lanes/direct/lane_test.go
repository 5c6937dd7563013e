package direct

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/fetch"
	"github.com/shpitdev/docfetch/internal/mockportal"
	"github.com/shpitdev/docfetch/internal/trace"
)

func setup(t *testing.T) (Lane, *mockportal.Server, string) {
	t.Helper()
	srv := mockportal.New("482913")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return Lane{Fetcher: fetch.New(fetch.Config{}, ts.Client())}, srv, ts.URL
}

func request(urls ...string) acquire.Request {
	var ls []acquire.ClassifiedLink
	for _, u := range urls {
		ls = append(ls, acquire.ClassifiedLink{CandidateLink: acquire.CandidateLink{URL: u}, Type: acquire.LinkDirectPDF})
	}
	return acquire.Request{
		Email:    &acquire.InboundEmail{},
		Policy:   acquire.DefaultPolicy(),
		Decision: acquire.LaneDecision{Lane: acquire.LaneDirect, Links: ls},
	}
}

func TestLaneDownloadsEveryPDF(t *testing.T) {
	t.Parallel()

	lane, _, base := setup(t)
	res := lane.Run(context.Background(), request(
		base+"/files/missing.pdf",
		base+"/files/statement.pdf",
		base+"/files/fake.pdf",
		base+"/redirect",
		base+"/files/download",
	))

	success, ok := res.Outcome.(acquire.Success)
	require.True(t, ok, "outcome %#v", res.Outcome)
	require.Len(t, success.Documents, 3)
	assert.Equal(t, "statement.pdf", success.Documents[0].Name)
	assert.Equal(t, "statement-2.pdf", success.Documents[1].Name)
	assert.Equal(t, "march-2026.pdf", success.Documents[2].Name)
	for _, d := range success.Documents {
		assert.True(t, acquire.IsPDF(d.Content))
		assert.NotEmpty(t, d.SourceURL)
	}

	steps := trace.Steps(res.Trace)
	assert.Contains(t, steps, "lane2.skip_inaccessible")
	assert.Contains(t, steps, "lane2.skip_download")
	assert.Equal(t, "lane2.complete", steps[len(steps)-1])
}

func TestLaneEscalatesOnInteractivePage(t *testing.T) {
	t.Parallel()

	lane, srv, base := setup(t)
	res := lane.Run(context.Background(), request(base+"/portal", base+"/files/statement.pdf"))

	esc, ok := res.Outcome.(acquire.Escalate)
	require.True(t, ok, "outcome %#v", res.Outcome)
	assert.Contains(t, esc.Reason, "pin")
	assert.Equal(t, acquire.LaneInteractive, esc.Next)
	assert.Equal(t, base+"/portal", esc.Target)
	assert.Zero(t, srv.CallsTo("/files/statement.pdf"), "links after an interactive page must not be fetched")
}

func TestLaneEscalatesAfterEarlierDownload(t *testing.T) {
	t.Parallel()

	lane, srv, base := setup(t)
	res := lane.Run(context.Background(), request(base+"/files/statement.pdf", base+"/portal"))

	esc, ok := res.Outcome.(acquire.Escalate)
	require.True(t, ok, "outcome %#v", res.Outcome)
	assert.Equal(t, "pin interaction required", esc.Reason)
	assert.Equal(t, base+"/portal", esc.Target)
	assert.True(t, res.RequiresEscalation())
	assert.False(t, res.Succeeded())
	assert.Positive(t, srv.CallsTo("/files/statement.pdf"))

	steps := trace.Steps(res.Trace)
	assert.Contains(t, steps, "lane2.downloaded")
	assert.Equal(t, "lane2.escalate", steps[len(steps)-1])
}

func TestLaneFailsWhenNothingDownloads(t *testing.T) {
	t.Parallel()

	lane, _, base := setup(t)
	res := lane.Run(context.Background(), request(base+"/files/missing.pdf", base+"/landing"))

	fail, ok := res.Outcome.(acquire.Fail)
	require.True(t, ok, "outcome %#v", res.Outcome)
	assert.ErrorIs(t, fail.Err, ErrNothingDownloadable)
	assert.False(t, res.RequiresEscalation())
}

func TestLaneHonorsRedirectPolicy(t *testing.T) {
	t.Parallel()

	lane, _, base := setup(t)
	req := request(base + "/redirect")
	req.Policy.Direct = acquire.DirectOptions{FollowRedirects: false}

	res := lane.Run(context.Background(), req)
	_, ok := res.Outcome.(acquire.Fail)
	assert.True(t, ok)
}

func TestLaneFallsBackToEmailLinks(t *testing.T) {
	t.Parallel()

	lane, _, base := setup(t)
	req := acquire.Request{
		Email:  &acquire.InboundEmail{TextBody: "Bill: " + base + "/files/statement.pdf"},
		Policy: acquire.DefaultPolicy(),
	}
	res := lane.Run(context.Background(), req)
	assert.True(t, res.Succeeded())
}

func TestLaneStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	lane, _, base := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := lane.Run(ctx, request(base+"/files/statement.pdf"))
	_, ok := res.Outcome.(acquire.Fail)
	assert.True(t, ok)
}
