package paginate

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
)

// Lister fetches pages of a remote collection.
type Lister interface {
	List(ctx context.Context, endpoint mailchimp.Endpoint, opts mailchimp.ListOptions) (*mailchimp.Page, error)
	TotalItems(ctx context.Context, endpoint mailchimp.Endpoint, opts mailchimp.ListOptions) (int, error)
}

// Paginator walks one collection from a resume offset to the end. The
// collection size is probed once up front and held fixed, so a collection of
// T items takes exactly ceil(T/page size) page fetches and an empty one takes
// none.
type Paginator struct {
	Lister      Lister
	Endpoint    mailchimp.Endpoint
	PageSize    int
	StartOffset int
	Filters     url.Values
	PathParams  map[string]string
	Retry       *RetryPolicy
	Log         *zap.Logger
}

// ForEach yields every remaining item in offset order. Each page fetch,
// including the size probe, runs under the retry policy. A callback error
// stops the walk and is returned as-is. Progress reporting is fire-and-forget
// and never affects the walk.
func (p *Paginator) ForEach(ctx context.Context, fn func(item map[string]interface{}) error) error {
	opts := mailchimp.ListOptions{
		Count:      p.PageSize,
		Filters:    p.Filters,
		PathParams: p.PathParams,
	}

	var total int
	err := p.Retry.Execute(ctx, func(ctx context.Context) error {
		var probeErr error
		total, probeErr = p.Lister.TotalItems(ctx, p.Endpoint, opts)
		return probeErr
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "cannot probe collection size").
			WithDetail("endpoint", p.Endpoint.ID)
	}

	offset := p.StartOffset
	metrics.ReportProgress(p.Endpoint.ID, offset, total)

	for offset < total {
		opts.Offset = offset

		var page *mailchimp.Page
		err := p.Retry.Execute(ctx, func(ctx context.Context) error {
			var fetchErr error
			page, fetchErr = p.Lister.List(ctx, p.Endpoint, opts)
			return fetchErr
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "cannot fetch page").
				WithDetail("endpoint", p.Endpoint.ID).
				WithDetail("offset", offset)
		}

		// A shrinking collection can empty a page before the probed
		// total is reached.
		if len(page.Items) == 0 {
			p.Log.Debug("empty page before probed total, stopping",
				zap.String("endpoint", p.Endpoint.ID),
				zap.Int("offset", offset),
				zap.Int("total", total))
			break
		}

		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		offset += len(page.Items)
		metrics.ReportProgress(p.Endpoint.ID, offset, total)
	}

	return nil
}
