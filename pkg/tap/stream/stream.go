// Package stream implements the per-stream extraction runners. Root streams
// page their own collections and record the ids they see; item-scoped streams
// run once per parent id with isolated progress, so one broken campaign or
// list never poisons its siblings.
package stream

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/logger"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
	"github.com/ajitpratap0/mailtap/pkg/sink"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
	"github.com/ajitpratap0/mailtap/pkg/tap/paginate"
	"github.com/ajitpratap0/mailtap/pkg/tap/state"
)

// API is the remote surface the stream runners consume.
type API interface {
	paginate.Lister
	ItemSchema(ctx context.Context, endpoint mailchimp.Endpoint) (map[string]interface{}, error)
	CampaignListID(ctx context.Context, campaignID string) (string, error)
	MergeFieldSpecs(ctx context.Context, listID string) ([]normalize.MergeFieldSpec, error)
	ExportMembers(ctx context.Context, listID, status string, since *time.Time, fn func(row map[string]interface{}) error) error
	ExportActivity(ctx context.Context, campaignID string, since *time.Time, includeEmpty bool, fn func(obj map[string]interface{}) error) error
}

// Deps bundles what every stream runner needs.
type Deps struct {
	API    API
	Config *config.Config
	State  *state.SyncState
	Sink   sink.Sink
	Retry  *paginate.RetryPolicy
}

// Stream is one runnable unit of extraction.
type Stream interface {
	// ID is the stream identifier
	ID() string
	// ItemID is the parent item id for item-scoped streams, empty for roots
	ItemID() string
	// Done reports whether this unit already finished in the current run
	Done() bool
	// Run extracts the stream's remaining records
	Run(ctx context.Context) error
}

// base carries the identity and lifecycle shared by all runners.
type base struct {
	deps   Deps
	id     string
	itemID string
	log    *zap.Logger
}

func newBase(deps Deps, id, itemID string) base {
	return base{
		deps:   deps,
		id:     id,
		itemID: itemID,
		log:    logger.ForStream(id, itemID),
	}
}

func (b *base) ID() string     { return b.id }
func (b *base) ItemID() string { return b.itemID }

func (b *base) Done() bool {
	if b.itemID == "" {
		return b.deps.State.Done(b.id)
	}
	return b.deps.State.ItemDone(b.id, b.itemID)
}

// begin opens a stream run: the in-progress marker becomes durable before any
// record is emitted.
func (b *base) begin() error {
	b.log.Info("starting stream sync")
	b.deps.State.SetCurrentlySyncing(b.id)
	return b.deps.State.Flush(true)
}

// finish closes a stream run: done is recorded (clearing the resume offset),
// the in-progress marker drops, and both become durable.
func (b *base) finish(records int) error {
	if b.itemID == "" {
		b.deps.State.SetDone(b.id)
	} else {
		b.deps.State.SetItemDone(b.id, b.itemID)
	}
	b.deps.State.ClearCurrentlySyncing()
	if err := b.deps.State.Flush(true); err != nil {
		return err
	}
	b.log.Info("finished stream sync", zap.Int("records", records))
	return nil
}

// writeSchema fetches and emits the stream's schema. shape mutates the schema
// before emission when the stream reshapes properties; nil leaves it as
// published.
func (b *base) writeSchema(ctx context.Context, endpoint mailchimp.Endpoint, keyProperties []string, shape func(schema map[string]interface{})) (map[string]interface{}, error) {
	schema, err := b.deps.API.ItemSchema(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if shape != nil {
		shape(schema)
	}
	if err := b.deps.Sink.WriteSchema(b.id, schema, keyProperties); err != nil {
		return nil, err
	}
	return schema, nil
}

// paginator builds a collection walker with the stream's shared settings.
func (b *base) paginator(endpoint mailchimp.Endpoint, startOffset int, filters url.Values, pathParams map[string]string) *paginate.Paginator {
	return &paginate.Paginator{
		Lister:      b.deps.API,
		Endpoint:    endpoint,
		PageSize:    b.deps.Config.Count,
		StartOffset: startOffset,
		Filters:     filters,
		PathParams:  pathParams,
		Retry:       b.deps.Retry,
		Log:         b.log,
	}
}

// emit writes one record and bumps the extraction counter.
func (b *base) emit(record map[string]interface{}) error {
	if err := b.deps.Sink.WriteRecord(b.id, record); err != nil {
		return err
	}
	metrics.RecordsExtracted.WithLabelValues(b.id).Inc()
	return nil
}
