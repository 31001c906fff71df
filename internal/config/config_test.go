package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Hotmart.PageSize)
	assert.Equal(t, 250, cfg.Pipeline.CallDelayMillis)
	assert.Equal(t, 10, cfg.Pipeline.ProgressStepPercent)
	assert.Equal(t, 25, cfg.Pipeline.MaxSummaryErrors)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
pipeline:
  run_hour_utc: 3
  call_delay_millis: 500
activecampaign:
  base_url: https://acct.api-us1.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pipeline.RunHourUTC)
	assert.Equal(t, 500, cfg.Pipeline.CallDelayMillis)
	assert.Equal(t, "https://acct.api-us1.com", cfg.ActiveCampaign.BaseURL)
	// Untouched keys still default.
	assert.Equal(t, 30, cfg.Pipeline.CallTimeoutSeconds)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/engage")
	t.Setenv("ACTIVECAMPAIGN_API_TOKEN", "tok-123")
	t.Setenv("MEMBERKIT_API_KEY", "mk-456")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/engage", cfg.Database.URL)
	assert.Equal(t, "tok-123", cfg.ActiveCampaign.APIToken)
	assert.Equal(t, "mk-456", cfg.Memberkit.APIKey)
	assert.True(t, cfg.Memberkit.Enabled, "setting the API key enables the source")
}

func TestValidate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	err = cfg.Validate()
	assert.Error(t, err, "missing database URL should fail validation")

	cfg.Database.URL = "postgres://localhost/engage"
	cfg.ActiveCampaign.BaseURL = "https://acct.api-us1.com"
	cfg.ActiveCampaign.APIToken = "tok"
	assert.NoError(t, cfg.Validate())
}
