package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 1000, cfg.Buffer.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Timeline.BucketWidth)
	assert.Equal(t, 50, cfg.Timeline.MaxBuckets)
	assert.Equal(t, 10, cfg.Timeline.TopK)
	assert.Equal(t, 10*time.Second, cfg.Health.Freshness)
	assert.Equal(t, 5*time.Second, cfg.Alerting.TTL)
	assert.Equal(t, 20, cfg.Alerting.HistoryCap)
	assert.Equal(t, 30*time.Second, cfg.Transport.BackoffCap)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icsight.yaml")
	content := `server:
  addr: ":9999"
buffer:
  capacity: 250
timeline:
  bucket_width: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 250, cfg.Buffer.Capacity)
	assert.Equal(t, time.Minute, cfg.Timeline.BucketWidth)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Health.WindowSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ICSIGHT_SERVER_ADDR", ":7070")
	t.Setenv("ICSIGHT_UPSTREAM_API_BASE_URL", "http://sim:8000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "http://sim:8000", cfg.Upstream.APIBaseURL)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
