// Package config provides the configuration structure for mailtap.
// Every knob is an explicit, enumerated field with a default and a validated
// type; nothing is passed through to the retrieval layer as open-ended
// key-value options.
package config

import (
	"os"
	"time"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
)

// Defaults for optional configuration fields.
const (
	DefaultStartDate            = "*"
	DefaultLagDays              = 3
	DefaultCount                = 500
	DefaultRequestTimeoutSec    = 300
	DefaultUserAgent            = "mailtap/0.1.0"
	DefaultUseExport            = true
	DefaultIncludeEmptyActivity = false
	DefaultMergeFieldsArray     = true
	DefaultInterestsArray       = true
)

// Config is the complete mailtap configuration. Zero values are filled in by
// New; Load unmarshals user JSON over the defaults so absent fields keep them.
type Config struct {
	// Credentials (required)
	UserName string `json:"user_name"`
	APIKey   string `json:"api_key"`

	// UserAgent is sent on every remote request
	UserAgent string `json:"user_agent"`

	// StartDate bounds the first incremental fetch. "*" or empty means
	// "since the beginning of time".
	StartDate string `json:"start_date"`

	// LagDays widens send-time based filters, because send timestamps can
	// lag creation timestamps.
	LagDays int `json:"lag"`

	// Count is the page size for paginated API fetches
	Count int `json:"count"`

	// RequestTimeoutSec bounds each remote HTTP request
	RequestTimeoutSec int `json:"request_timeout"`

	// MaxRunTimeMin is the global time budget in minutes; 0 means unlimited.
	// The orchestrator checks it between streams only.
	MaxRunTimeMin float64 `json:"max_run_time"`

	// KeepLinks keeps _links navigation metadata in emitted records
	KeepLinks bool `json:"keep_links"`

	// UseExport selects the bulk-export retrieval strategy for both
	// item-scoped streams; the per-stream toggles below override it when set.
	UseExport              bool  `json:"use_export"`
	UseListMemberExport    *bool `json:"use_list_member_export"`
	UseEmailActivityExport *bool `json:"use_email_activity_export"`

	// IncludeEmptyActivity requests empty activity rows from the export API
	IncludeEmptyActivity bool `json:"include_empty_activity"`

	// MergeFieldsArray flattens the merge_fields mapping into an array of
	// tagged objects, so caller-defined keys fit a fixed sub-schema.
	MergeFieldsArray bool `json:"merge_fields_array"`

	// InterestsArray flattens the interests mapping the same way
	InterestsArray bool `json:"interests_array"`

	// RateLimitPerSec limits remote requests per second; 0 means unlimited
	RateLimitPerSec int `json:"rate_limit_per_sec"`

	// APIBaseURL overrides the data-center URL derived from the API key.
	// Used for testing against a local server.
	APIBaseURL string `json:"api_base_url"`
}

// New returns a Config populated with defaults
func New() *Config {
	return &Config{
		UserAgent:            DefaultUserAgent,
		StartDate:            DefaultStartDate,
		LagDays:              DefaultLagDays,
		Count:                DefaultCount,
		RequestTimeoutSec:    DefaultRequestTimeoutSec,
		UseExport:            DefaultUseExport,
		IncludeEmptyActivity: DefaultIncludeEmptyActivity,
		MergeFieldsArray:     DefaultMergeFieldsArray,
		InterestsArray:       DefaultInterestsArray,
	}
}

// Load reads a JSON config file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	cfg := New()
	if err := jsonutil.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.UserName == "" {
		return errors.New(errors.ErrorTypeConfig, "user_name is required")
	}
	if c.APIKey == "" {
		return errors.New(errors.ErrorTypeConfig, "api_key is required")
	}
	if c.Count <= 0 {
		return errors.New(errors.ErrorTypeConfig, "count must be positive")
	}
	if c.LagDays < 0 {
		return errors.New(errors.ErrorTypeConfig, "lag cannot be negative")
	}
	if c.RequestTimeoutSec <= 0 {
		return errors.New(errors.ErrorTypeConfig, "request_timeout must be positive")
	}
	if c.MaxRunTimeMin < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_run_time cannot be negative")
	}
	if c.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "rate_limit_per_sec cannot be negative")
	}
	return nil
}

// RequestTimeout returns the per-request timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Lag returns the send-time lag window as a duration
func (c *Config) Lag() time.Duration {
	return time.Duration(c.LagDays) * 24 * time.Hour
}

// MaxRunTime returns the global time budget; zero means unlimited
func (c *Config) MaxRunTime() time.Duration {
	return time.Duration(c.MaxRunTimeMin * float64(time.Minute))
}

// ListMemberExport reports whether the list-members stream uses the bulk
// export path. The per-stream toggle wins over the shared one when present.
func (c *Config) ListMemberExport() bool {
	if c.UseListMemberExport != nil {
		return *c.UseListMemberExport
	}
	return c.UseExport
}

// EmailActivityExport reports whether the email-activity stream uses the bulk
// export path
func (c *Config) EmailActivityExport() bool {
	if c.UseEmailActivityExport != nil {
		return *c.UseEmailActivityExport
	}
	return c.UseExport
}
