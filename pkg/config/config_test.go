package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GITLAB_URL", "")
	t.Setenv("SYNC_WORKERS", "")
	t.Setenv("RESYNC_HOUR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://gitlab.com", cfg.GitLab.BaseURL)
	assert.Equal(t, 2, cfg.Workers.SyncWorkers)
	assert.Equal(t, 2*time.Second, cfg.Workers.PollInterval)
	assert.Equal(t, -1, cfg.Workers.ResyncHour)
	assert.Same(t, cfg, AppConfig)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
	t.Setenv("JOB_MAX_ATTEMPTS", "5")
	t.Setenv("WEBHOOK_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.GitHub.Enabled())
	assert.False(t, cfg.GitLab.Enabled())
	assert.Equal(t, 5, cfg.Workers.MaxAttempts)
	assert.Equal(t, 2, cfg.Workers.WebhookWorkers, "invalid integers fall back to the default")
}
