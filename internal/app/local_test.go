package app

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/config"
	"github.com/shpitdev/docfetch/internal/mockportal"
	"github.com/shpitdev/docfetch/internal/pipeline"
)

func writeMessage(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

// TestRunLocal drives the configured service end to end over the mock portal with
// heuristic advisors and local storage.
func TestRunLocal(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DOCFETCH_GEMINI_API_KEY", "")

	srv := httptest.NewServer(mockportal.New("4821").Handler())
	defer srv.Close()

	in := t.TempDir()
	writeMessage(t, in, "a-attachment.json", `{"message_id":"m-attach","from":"billing@utility.test","subject":"Bill",
"attachments":[{"filename":"bill.pdf","content_type":"application/pdf","content":"`+base64.StdEncoding.EncodeToString(samplePDF)+`"}]}`)
	writeMessage(t, in, "b-direct.json", `{"message_id":"m-direct","from":"alerts@telco.test","subject":"Statement",
"text_body":"Your statement: `+srv.URL+`/files/statement.pdf"}`)
	writeMessage(t, in, "c-nothing.json", `{"message_id":"m-none","from":"news@shop.test","subject":"Hello","text_body":"No links here."}`)
	writeMessage(t, in, "d-broken.json", `{`)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Dir = t.TempDir()
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.MaxRetries = 0

	svc, err := NewService(context.Background(), cfg, nil)
	require.NoError(t, err)

	summary := filepath.Join(t.TempDir(), "summary.csv")
	rows, err := RunLocal(context.Background(), svc, []string{in}, summary, pipeline.Options{
		Workers:    cfg.Pipeline.Workers,
		MaxRetries: cfg.Pipeline.MaxRetries,
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, pipeline.StatusOK, rows[0].Status)
	assert.Equal(t, "lane1_attachments", rows[0].Lane)
	assert.Equal(t, 1, rows[0].Documents)

	assert.Equal(t, pipeline.StatusOK, rows[1].Status)
	assert.Equal(t, "lane2_direct", rows[1].Lane)
	assert.Equal(t, 1, rows[1].Documents)

	assert.Equal(t, pipeline.StatusFailed, rows[2].Status)
	assert.Equal(t, "unknown", rows[2].Lane)

	assert.Equal(t, pipeline.StatusError, rows[3].Status)

	stored, err := os.ReadFile(filepath.Join(cfg.Storage.Dir, "inbound", "m-attach", "bill.pdf"))
	require.NoError(t, err)
	assert.Equal(t, samplePDF, stored)

	entries, err := os.ReadDir(filepath.Join(cfg.Storage.Dir, "inbound", "m-direct"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	f, err := os.Open(summary)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, pipeline.Header(), records[0])
}

func TestRunLocal_NoMessages(t *testing.T) {
	_, err := RunLocal(context.Background(), &Service{}, []string{t.TempDir()}, "", pipeline.Options{})
	assert.Error(t, err)
}
