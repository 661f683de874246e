package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("BACKEND_API_URL", "https://api.example.test")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.Backend.APIURL)
	assert.Equal(t, "https://api.example.test/api/events", cfg.Backend.EventsURL)
	assert.Equal(t, 2*time.Second, cfg.Observer.PollInterval)
	assert.Equal(t, 100, cfg.Observer.GenerationCeiling)
	assert.Equal(t, ":8790", cfg.System.HTTPAddr)
	assert.False(t, cfg.Schedule.Enabled())
}

func TestNewFromEnv_RequiresBackendURL(t *testing.T) {
	t.Setenv("BACKEND_API_URL", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_API_URL")
}

func TestNewFromEnv_ScheduleParsing(t *testing.T) {
	t.Setenv("BACKEND_API_URL", "https://api.example.test")
	t.Setenv("GENERATE_CRON_EXPR", "0 3 * * *")
	t.Setenv("GENERATE_SURVEY_IDS", "s1, s2 ,,s3")
	t.Setenv("GENERATE_COUNT", "40")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.Schedule.Enabled())
	assert.Equal(t, []string{"s1", "s2", "s3"}, cfg.Schedule.SurveyIDs)
	assert.Equal(t, 40, cfg.Schedule.Count)
}

func TestNewFromEnv_RejectsBadCronExpr(t *testing.T) {
	t.Setenv("BACKEND_API_URL", "https://api.example.test")
	t.Setenv("GENERATE_CRON_EXPR", "not-a-cron")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENERATE_CRON_EXPR")
}

func TestNewFromEnv_PollIntervalOverride(t *testing.T) {
	t.Setenv("BACKEND_API_URL", "https://api.example.test")
	t.Setenv("POLL_INTERVAL", "500ms")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Observer.PollInterval)
}
