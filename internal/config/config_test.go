package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/docfetch/internal/acquire"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "inbound", cfg.Storage.Prefix)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 4, cfg.Pipeline.MaxHops)
	assert.Equal(t, 3, cfg.NATS.MaxDeliver)
	assert.Equal(t, 72*time.Hour, cfg.Redis.TTL)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3*time.Minute, cfg.Agent.TaskTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
storage:
  backend: minio
minio:
  endpoint: http://localhost:9000
  bucket: bills
pipeline:
  workers: 8
  item_timeout: 90s
`), 0o600))

	t.Setenv("DOCFETCH_PIPELINE_WORKERS", "2")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "bills", cfg.MinIO.Bucket)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.ItemTimeout)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("DOCFETCH_STORAGE_BACKEND", "ftp")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_MinIORequiresEndpoint(t *testing.T) {
	t.Setenv("DOCFETCH_STORAGE_BACKEND", "minio")
	_, err := Load("")
	assert.Error(t, err)
}

const policyYAML = `
default:
  preferred_lane: auto
  fallback_confidence: 0.4
senders:
  - match: billing@utility.test
    preferred_lane: lane3_interactive
    portal:
      require_pin: true
      pin_selector: "#access-code"
      download_selector: "a.download"
    instruction: The access code is the last 6 digits of the account number.
  - match: "@telco.test"
    preferred_lane: lane2
    follow_redirects: false
  - match: "@water.test"
    portal:
      backend: agentic
`

func TestParsePolicies_Resolve(t *testing.T) {
	set, err := ParsePolicies([]byte(policyYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	p := set.Resolve("Billing@Utility.test")
	assert.Equal(t, acquire.LaneInteractive, p.PreferredLane)
	assert.True(t, p.Portal.RequirePIN)
	assert.Equal(t, "#access-code", p.Portal.PINSelector)
	assert.Equal(t, acquire.BackendBrowser, p.Portal.Backend)
	assert.NotEmpty(t, p.Instruction)

	p = set.Resolve("noreply@mail.telco.test")
	assert.Equal(t, acquire.LaneDirect, p.PreferredLane)
	assert.False(t, p.Direct.FollowRedirects)
	assert.Equal(t, acquire.DefaultMaxRedirects, p.Direct.MaxRedirects)

	p = set.Resolve("alerts@water.test")
	assert.Equal(t, acquire.LaneAuto, p.PreferredLane)
	assert.Equal(t, acquire.BackendAgentic, p.Portal.Backend)

	p = set.Resolve("someone@elsewhere.test")
	assert.Equal(t, acquire.LaneAuto, p.PreferredLane)
	assert.InDelta(t, 0.4, p.FallbackConfidence, 1e-9)

	p = set.Resolve("other@utility.test")
	assert.Equal(t, acquire.LaneAuto, p.PreferredLane, "exact matches do not cover the domain")
}

func TestParsePolicies_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown lane", doc: "senders:\n  - match: a@b.test\n    preferred_lane: lane9\n"},
		{name: "unknown backend", doc: "senders:\n  - match: a@b.test\n    portal:\n      backend: robot\n"},
		{name: "missing match", doc: "senders:\n  - preferred_lane: auto\n"},
		{name: "duplicate match", doc: "senders:\n  - match: \"@b.test\"\n  - match: \"@B.test\"\n"},
		{name: "bad redirects", doc: "senders:\n  - match: a@b.test\n    max_redirects: 99\n"},
		{name: "bad confidence", doc: "default:\n  fallback_confidence: 2\n"},
		{name: "not yaml", doc: "senders: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicies([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicies(t *testing.T) {
	set, err := LoadPolicies("")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, acquire.DefaultPolicy(), set.Resolve("a@b.test"))

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))
	set, err = LoadPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}
