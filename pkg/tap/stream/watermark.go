package stream

import (
	"time"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
	"github.com/ajitpratap0/mailtap/pkg/tap/state"
)

// ResolveStart picks the incremental watermark for this run: the previous
// completed run's start when one exists, else the configured start date. Nil
// means unbounded, extract from the beginning of time.
func ResolveStart(st *state.SyncState, cfg *config.Config) (*time.Time, error) {
	if lastRun := st.LastRun(); lastRun != nil {
		return lastRun, nil
	}
	if cfg.StartDate == "" || cfg.StartDate == config.DefaultStartDate {
		return nil, nil
	}
	t, err := normalize.ParseTime(cfg.StartDate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot parse start_date").
			WithDetail("value", cfg.StartDate)
	}
	return &t, nil
}

// ResolveLagStart widens a watermark backwards by the configured lag, catching
// late-arriving activity on sends that predate the watermark. Nil propagates.
func ResolveLagStart(start *time.Time, lag time.Duration) *time.Time {
	if start == nil {
		return nil
	}
	t := start.Add(-lag)
	return &t
}
