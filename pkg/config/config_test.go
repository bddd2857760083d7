package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mailtap/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfig_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "*", cfg.StartDate)
	assert.Equal(t, 3, cfg.LagDays)
	assert.Equal(t, 500, cfg.Count)
	assert.Equal(t, 300, cfg.RequestTimeoutSec)
	assert.Equal(t, "mailtap/0.1.0", cfg.UserAgent)
	assert.True(t, cfg.UseExport)
	assert.False(t, cfg.IncludeEmptyActivity)
	assert.True(t, cfg.MergeFieldsArray)
	assert.True(t, cfg.InterestsArray)
	assert.False(t, cfg.KeepLinks)
	assert.Zero(t, cfg.MaxRunTimeMin)
}

func TestConfig_LoadOverDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"user_name": "tester",
		"api_key": "key-us1",
		"count": 100,
		"start_date": "2020-06-01T00:00:00+00:00",
		"max_run_time": 270.5
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tester", cfg.UserName)
	assert.Equal(t, 100, cfg.Count)
	assert.Equal(t, "2020-06-01T00:00:00+00:00", cfg.StartDate)
	assert.InDelta(t, 270.5, cfg.MaxRunTimeMin, 0.001)

	// absent fields keep their defaults
	assert.Equal(t, 3, cfg.LagDays)
	assert.Equal(t, 300, cfg.RequestTimeoutSec)
	assert.True(t, cfg.UseExport)
}

func TestConfig_LoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConfig_LoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"user_name": `)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := New()
		cfg.UserName = "tester"
		cfg.APIKey = "key-us1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"missing user_name", func(c *Config) { c.UserName = "" }, "user_name is required"},
		{"missing api_key", func(c *Config) { c.APIKey = "" }, "api_key is required"},
		{"zero count", func(c *Config) { c.Count = 0 }, "count must be positive"},
		{"negative lag", func(c *Config) { c.LagDays = -1 }, "lag cannot be negative"},
		{"zero timeout", func(c *Config) { c.RequestTimeoutSec = 0 }, "request_timeout must be positive"},
		{"negative run time", func(c *Config) { c.MaxRunTimeMin = -1 }, "max_run_time cannot be negative"},
		{"negative rate limit", func(c *Config) { c.RateLimitPerSec = -5 }, "rate_limit_per_sec cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestConfig_Durations(t *testing.T) {
	cfg := New()
	cfg.LagDays = 2
	cfg.RequestTimeoutSec = 30
	cfg.MaxRunTimeMin = 1.5

	assert.Equal(t, 48*time.Hour, cfg.Lag())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 90*time.Second, cfg.MaxRunTime())
}

func TestConfig_ExportToggles(t *testing.T) {
	cfg := New()
	assert.True(t, cfg.ListMemberExport())
	assert.True(t, cfg.EmailActivityExport())

	cfg.UseExport = false
	assert.False(t, cfg.ListMemberExport())
	assert.False(t, cfg.EmailActivityExport())

	// per-stream toggles win over the shared one
	yes := true
	cfg.UseListMemberExport = &yes
	assert.True(t, cfg.ListMemberExport())
	assert.False(t, cfg.EmailActivityExport())

	no := false
	cfg.UseExport = true
	cfg.UseEmailActivityExport = &no
	assert.False(t, cfg.EmailActivityExport())
	assert.True(t, cfg.ListMemberExport())
}
