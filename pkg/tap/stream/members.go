package stream

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
)

// ListMembersStream extracts the members of one audience list. The retrieval
// strategy is configurable: the bulk export endpoint streams every member in
// flat rows, the paginated API serves the canonical shape directly. Both
// produce identical records.
type ListMembersStream struct {
	base
	listID  string
	records int
}

// NewListMembersStream creates the member runner for one list.
func NewListMembersStream(deps Deps, listID string) *ListMembersStream {
	return &ListMembersStream{
		base:   newBase(deps, mailchimp.StreamListMembers, listID),
		listID: listID,
	}
}

// Run extracts this list's members.
func (s *ListMembersStream) Run(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}

	endpoint, err := mailchimp.EndpointFor(mailchimp.StreamListMembers)
	if err != nil {
		return err
	}

	cfg := s.deps.Config
	schema, err := s.writeSchema(ctx, endpoint, []string{"id", "list_id"}, func(schema map[string]interface{}) {
		normalize.MemberArraySchemas(schema, cfg.MergeFieldsArray, cfg.InterestsArray)
	})
	if err != nil {
		return err
	}

	specs, err := s.deps.API.MergeFieldSpecs(ctx, s.listID)
	if err != nil {
		return err
	}
	catalog := normalize.CatalogByTag(specs)

	start, err := ResolveStart(s.deps.State, s.deps.Config)
	if err != nil {
		return err
	}

	if cfg.ListMemberExport() {
		err = s.runExport(ctx, schema, specs, catalog, start)
	} else {
		err = s.runPaginated(ctx, endpoint, schema, catalog, start)
	}
	if err != nil {
		return err
	}

	return s.finish(s.records)
}

// runExport pulls members through the bulk export endpoint, one status at a
// time, rebuilding the canonical record shape from flat rows.
func (s *ListMembersStream) runExport(ctx context.Context, schema map[string]interface{}, specs []normalize.MergeFieldSpec, catalog map[string]normalize.MergeFieldSpec, start *time.Time) error {
	mappings := normalize.MemberExportMappings(specs, s.log)

	for _, status := range mailchimp.ExportMemberStatuses {
		s.log.Debug("exporting members", zap.String("status", status))
		err := s.deps.API.ExportMembers(ctx, s.listID, status, start, func(row map[string]interface{}) error {
			metrics.ExportLines.WithLabelValues(s.id).Inc()

			record, err := normalize.MemberFromExport(mappings, s.listID, status, row, s.log)
			if err != nil {
				return err
			}
			return s.emitMember(schema, catalog, record)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// runPaginated pulls members through the paginated API from this item's
// persisted offset, filtered to members changed since the watermark.
func (s *ListMembersStream) runPaginated(ctx context.Context, endpoint mailchimp.Endpoint, schema map[string]interface{}, catalog map[string]normalize.MergeFieldSpec, start *time.Time) error {
	filters := url.Values{}
	if start != nil {
		filters.Set("since_last_changed", normalize.FormatTime(*start))
	}

	pag := s.paginator(endpoint, s.deps.State.ItemCount(s.id, s.itemID), filters,
		map[string]string{"list_id": s.listID})
	return pag.ForEach(ctx, func(item map[string]interface{}) error {
		if _, ok := item["id"].(string); !ok {
			return errors.New(errors.ErrorTypeData, "member has no id").
				WithDetail("list_id", s.listID)
		}
		return s.emitMember(schema, catalog, item)
	})
}

// emitMember applies the shared member shaping and emits the record with
// durable per-item progress.
func (s *ListMembersStream) emitMember(schema map[string]interface{}, catalog map[string]normalize.MergeFieldSpec, record map[string]interface{}) error {
	cfg := s.deps.Config

	if !cfg.KeepLinks {
		normalize.StripLinks(record)
	}
	if cfg.MergeFieldsArray {
		normalize.FlattenMergeFields(record, catalog)
	}
	if cfg.InterestsArray {
		normalize.FlattenInterests(record)
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
