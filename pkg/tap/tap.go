// Package tap orchestrates a full extraction run: root streams first, then
// the item-scoped generations their ids feed. Execution is single-threaded
// and synchronous; per-stream failures are contained, logged, and counted
// rather than aborting the run.
package tap

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/logger"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
	"github.com/ajitpratap0/mailtap/pkg/sink"
	"github.com/ajitpratap0/mailtap/pkg/tap/paginate"
	"github.com/ajitpratap0/mailtap/pkg/tap/state"
	"github.com/ajitpratap0/mailtap/pkg/tap/stream"
)

// Tap runs the full set of streams against one account.
type Tap struct {
	deps     stream.Deps
	log      *zap.Logger
	failures int
	stopped  bool
}

// New assembles a tap from its collaborators. The retry policy defaults to
// production backoff when nil.
func New(api stream.API, cfg *config.Config, st *state.SyncState, snk sink.Sink, retry *paginate.RetryPolicy) *Tap {
	log := logger.Get().With(zap.String("component", "tap"))
	if retry == nil {
		retry = paginate.DefaultRetryPolicy(log)
	}
	return &Tap{
		deps: stream.Deps{
			API:    api,
			Config: cfg,
			State:  st,
			Sink:   snk,
			Retry:  retry,
		},
		log: log,
	}
}

// Run executes every stream in dependency order: lists, campaigns, then
// members per list and activity per campaign. Id sets are read when each
// dependent generation begins, so parents discovered this run are included.
// Returns the number of streams that failed; state is flushed regardless.
func (t *Tap) Run(ctx context.Context) int {
	t.failures = 0
	t.stopped = false
	t.deps.State.BeginRun()

	if lists, err := stream.NewListsStream(t.deps); err != nil {
		t.recordFailure(mailchimp.StreamLists, "", err)
	} else {
		t.schedule(ctx, lists)
	}

	if campaigns, err := stream.NewCampaignsStream(t.deps); err != nil {
		t.recordFailure(mailchimp.StreamCampaigns, "", err)
	} else {
		t.schedule(ctx, campaigns)
	}

	for _, listID := range t.deps.State.IDs(mailchimp.StreamLists) {
		t.schedule(ctx, stream.NewListMembersStream(t.deps, listID))
	}

	for _, campaignID := range t.deps.State.IDs(mailchimp.StreamCampaigns) {
		t.schedule(ctx, stream.NewEmailActivityStream(t.deps, campaignID))
	}

	if t.failures == 0 && !t.stopped {
		t.deps.State.FinalizeRun()
		t.log.Info("run complete")
	}

	if err := t.deps.State.Flush(true); err != nil {
		t.log.Error("cannot flush final state", zap.Error(err))
		t.failures++
	}

	return t.failures
}

// schedule runs one stream unless it already finished or the run is winding
// down. The time budget is checked between streams only; a running stream is
// never interrupted.
func (t *Tap) schedule(ctx context.Context, s stream.Stream) {
	if t.stopped {
		return
	}
	if !t.budgetLeft(ctx) {
		t.stopped = true
		return
	}
	if s.Done() {
		t.log.Info("skipping stream",
			zap.String("stream_id", s.ID()),
			zap.String("item_id", s.ItemID()),
			zap.String("reason", "already done"))
		return
	}

	timer := metrics.NewStreamTimer(s.ID())
	err := s.Run(ctx)
	timer.Stop()

	if err != nil {
		t.recordFailure(s.ID(), s.ItemID(), err)
	}
}

func (t *Tap) budgetLeft(ctx context.Context) bool {
	if ctx.Err() != nil {
		t.log.Info("stopping run", zap.String("reason", "context canceled"))
		return false
	}
	budget := t.deps.Config.MaxRunTime()
	if budget <= 0 {
		return true
	}
	session := t.deps.State.SessionTime()
	if session < budget {
		return true
	}
	t.log.Info("stopping run",
		zap.String("reason", "time budget exhausted"),
		zap.Float64("session_minutes", session.Minutes()))
	return false
}

func (t *Tap) recordFailure(streamID, itemID string, err error) {
	t.failures++
	metrics.StreamFailures.WithLabelValues(streamID).Inc()
	t.log.Error("stream failed",
		zap.String("stream_id", streamID),
		zap.String("item_id", itemID),
		zap.Error(err))
}
