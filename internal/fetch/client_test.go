package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/mockportal"
)

func newTestClient(t *testing.T, cfg Config) (*Client, *mockportal.Server, string) {
	t.Helper()
	srv := mockportal.New("1234")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	cfg.RateLimitRPS = 0
	return New(cfg, ts.Client()), srv, ts.URL
}

var follow = Redirects{Follow: true, Max: 5}

func TestProbe(t *testing.T) {
	t.Parallel()

	c, _, base := newTestClient(t, Config{})
	ctx := context.Background()

	p, err := c.Probe(ctx, base+"/files/statement.pdf", follow)
	require.NoError(t, err)
	assert.True(t, p.Accessible)
	assert.True(t, p.IsPDF)

	p, err = c.Probe(ctx, base+"/portal", follow)
	require.NoError(t, err)
	assert.True(t, p.IsHTML)
	assert.False(t, p.IsPDF)

	p, err = c.Probe(ctx, base+"/files/missing.pdf", follow)
	require.NoError(t, err)
	assert.False(t, p.Accessible)
	assert.Equal(t, http.StatusNotFound, p.StatusCode)

	p, err = c.Probe(ctx, base+"/files/download", follow)
	require.NoError(t, err)
	assert.True(t, p.IsPDF, "octet-stream with PDF magic")
}

func TestProbeFallsBackWhenHEADRejected(t *testing.T) {
	t.Parallel()

	c, srv, base := newTestClient(t, Config{})
	srv.RejectHEAD(true)

	p, err := c.Probe(context.Background(), base+"/files/statement.pdf", follow)
	require.NoError(t, err)
	assert.True(t, p.Accessible)
	assert.True(t, p.IsPDF)

	var methods []string
	for _, call := range srv.Calls() {
		methods = append(methods, call.Method)
	}
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
}

func TestRedirectPolicy(t *testing.T) {
	t.Parallel()

	c, _, base := newTestClient(t, Config{})
	ctx := context.Background()

	p, err := c.Probe(ctx, base+"/redirect", follow)
	require.NoError(t, err)
	assert.True(t, p.Accessible)
	assert.True(t, strings.HasSuffix(p.FinalURL, "/files/statement.pdf"))

	p, err = c.Probe(ctx, base+"/redirect", Redirects{Follow: false})
	require.NoError(t, err)
	assert.False(t, p.Accessible)
	assert.Equal(t, http.StatusFound, p.StatusCode)

	_, err = c.DownloadPDF(ctx, base+"/redirect", Redirects{Follow: true, Max: 0})
	assert.ErrorIs(t, err, ErrTooManyHops)
}

func TestDownloadPDF(t *testing.T) {
	t.Parallel()

	c, _, base := newTestClient(t, Config{})
	ctx := context.Background()

	dl, err := c.DownloadPDF(ctx, base+"/files/download", follow)
	require.NoError(t, err)
	assert.Equal(t, mockportal.SamplePDF, dl.Content)
	assert.Equal(t, "march-2026.pdf", dl.Filename)

	dl, err = c.DownloadPDF(ctx, base+"/files/statement.pdf", follow)
	require.NoError(t, err)
	assert.Equal(t, "statement.pdf", dl.Filename)

	_, err = c.DownloadPDF(ctx, base+"/files/fake.pdf", follow)
	assert.ErrorIs(t, err, ErrNotPDF)

	_, err = c.DownloadPDF(ctx, base+"/files/missing.pdf", follow)
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
}

func TestDownloadPDFSizeLimit(t *testing.T) {
	t.Parallel()

	c, _, base := newTestClient(t, Config{MaxPDFBytes: 16})
	_, err := c.DownloadPDF(context.Background(), base+"/files/statement.pdf", follow)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	c := New(Config{}, nil)
	_, err := c.Probe(context.Background(), "file:///etc/passwd", follow)
	assert.Error(t, err)
}

func TestHTTPErrorRedacts(t *testing.T) {
	t.Parallel()

	err := NewHTTPError("download", "https://x.example.com/a?pin=1234", &http.Response{StatusCode: 500, Status: "500 Internal Server Error"}, []byte("token api_key=abc"))
	msg := err.Error()
	assert.NotContains(t, msg, "1234")
	assert.NotContains(t, msg, "abc")
	assert.True(t, err.(*HTTPError).Temporary())
}
