package stream

import (
	"context"
	"net/url"
	"time"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
)

// EmailActivityStream extracts per-recipient activity for one campaign. Like
// members, the retrieval strategy is configurable; canonical records are
// keyed by campaign and recipient and identical across strategies.
type EmailActivityStream struct {
	base
	campaignID string
	records    int
}

// NewEmailActivityStream creates the activity runner for one campaign.
func NewEmailActivityStream(deps Deps, campaignID string) *EmailActivityStream {
	return &EmailActivityStream{
		base:       newBase(deps, mailchimp.StreamEmailActivity, campaignID),
		campaignID: campaignID,
	}
}

// Run extracts this campaign's activity.
func (s *EmailActivityStream) Run(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}

	endpoint, err := mailchimp.EndpointFor(mailchimp.StreamEmailActivity)
	if err != nil {
		return err
	}

	schema, err := s.writeSchema(ctx, endpoint, []string{"campaign_id", "email_id"}, nil)
	if err != nil {
		return err
	}

	start, err := ResolveStart(s.deps.State, s.deps.Config)
	if err != nil {
		return err
	}

	if s.deps.Config.EmailActivityExport() {
		err = s.runExport(ctx, schema, start)
	} else {
		err = s.runPaginated(ctx, endpoint, schema, start)
	}
	if err != nil {
		return err
	}

	return s.finish(s.records)
}

// runExport pulls activity through the bulk export endpoint. The remote
// reports campaign-level problems as in-band error lines; those fail this
// campaign only.
func (s *EmailActivityStream) runExport(ctx context.Context, schema map[string]interface{}, start *time.Time) error {
	listID, err := s.deps.API.CampaignListID(ctx, s.campaignID)
	if err != nil {
		return err
	}

	includeEmpty := s.deps.Config.IncludeEmptyActivity
	return s.deps.API.ExportActivity(ctx, s.campaignID, start, includeEmpty, func(obj map[string]interface{}) error {
		metrics.ExportLines.WithLabelValues(s.id).Inc()

		record, err := normalize.ActivityFromExport(s.campaignID, listID, obj)
		if err != nil {
			return err
		}
		return s.emitActivity(schema, record)
	})
}

// runPaginated pulls activity through the paginated report endpoint from this
// item's persisted offset.
func (s *EmailActivityStream) runPaginated(ctx context.Context, endpoint mailchimp.Endpoint, schema map[string]interface{}, start *time.Time) error {
	filters := url.Values{}
	if start != nil {
		filters.Set("since", normalize.FormatTime(*start))
	}

	pag := s.paginator(endpoint, s.deps.State.ItemCount(s.id, s.itemID), filters,
		map[string]string{"campaign_id": s.campaignID})
	return pag.ForEach(ctx, func(item map[string]interface{}) error {
		if _, ok := item["email_id"].(string); !ok {
			return errors.New(errors.ErrorTypeData, "activity report has no email_id").
				WithDetail("campaign_id", s.campaignID)
		}
		return s.emitActivity(schema, item)
	})
}

func (s *EmailActivityStream) emitActivity(schema, record map[string]interface{}) error {
	if !s.deps.Config.KeepLinks {
		normalize.StripLinks(record)
	}
	if err := normalize.ScrubBlankDateTimes(schema, record); err != nil {
		return err
	}

	if err := s.emit(record); err != nil {
		return err
	}

	s.records++
	s.deps.State.SetItemCount(s.id, s.itemID, s.deps.State.ItemCount(s.id, s.itemID)+1)
	return s.deps.State.Flush(false)
}
