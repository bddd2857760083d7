package paginate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/mailchimp"
)

// fakeLister serves a fixed collection and counts fetches.
type fakeLister struct {
	total      int
	probes     int
	pageCalls  int
	failProbes int
	failPages  int
	shrinkAt   int // offset at which the collection pretends to be empty
}

func (f *fakeLister) TotalItems(ctx context.Context, endpoint mailchimp.Endpoint, opts mailchimp.ListOptions) (int, error) {
	f.probes++
	if f.failProbes > 0 {
		f.failProbes--
		return 0, errors.New(errors.ErrorTypeConnection, "probe failed")
	}
	return f.total, nil
}

func (f *fakeLister) List(ctx context.Context, endpoint mailchimp.Endpoint, opts mailchimp.ListOptions) (*mailchimp.Page, error) {
	f.pageCalls++
	if f.failPages > 0 {
		f.failPages--
		return nil, errors.New(errors.ErrorTypeConnection, "page failed")
	}

	end := opts.Offset + opts.Count
	if end > f.total {
		end = f.total
	}
	if f.shrinkAt > 0 && opts.Offset >= f.shrinkAt {
		end = opts.Offset
	}

	items := make([]map[string]interface{}, 0, end-opts.Offset)
	for i := opts.Offset; i < end; i++ {
		items = append(items, map[string]interface{}{"id": fmt.Sprintf("item-%d", i)})
	}
	return &mailchimp.Page{Items: items, TotalItems: f.total}, nil
}

func newPaginator(l *fakeLister, pageSize, startOffset int) *Paginator {
	return &Paginator{
		Lister:      l,
		Endpoint:    mailchimp.Endpoint{ID: "lists", Path: "/lists", CollectionKey: "lists"},
		PageSize:    pageSize,
		StartOffset: startOffset,
		Retry:       &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2},
		Log:         zap.NewNop(),
	}
}

func TestPaginator_ExactFetchCount(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		wantPages int
	}{
		{"multiple of page size", 10, 5, 2},
		{"remainder page", 10, 3, 4},
		{"single short page", 2, 50, 1},
		{"empty collection", 0, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{total: tt.total}
			var seen []string
			err := newPaginator(lister, tt.pageSize, 0).ForEach(context.Background(), func(item map[string]interface{}) error {
				seen = append(seen, item["id"].(string))
				return nil
			})
			require.NoError(t, err)
			assert.Len(t, seen, tt.total)
			assert.Equal(t, tt.wantPages, lister.pageCalls)
			assert.Equal(t, 1, lister.probes)
		})
	}
}

func TestPaginator_ResumeOffset(t *testing.T) {
	lister := &fakeLister{total: 10}
	var seen []string
	err := newPaginator(lister, 4, 6).ForEach(context.Background(), func(item map[string]interface{}) error {
		seen = append(seen, item["id"].(string))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-6", "item-7", "item-8", "item-9"}, seen)
	assert.Equal(t, 1, lister.pageCalls)
}

func TestPaginator_ShrinkingCollectionStops(t *testing.T) {
	lister := &fakeLister{total: 10, shrinkAt: 5}
	count := 0
	err := newPaginator(lister, 5, 0).ForEach(context.Background(), func(item map[string]interface{}) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 2, lister.pageCalls)
}

func TestPaginator_RetriesTransientFailures(t *testing.T) {
	t.Run("probe retried", func(t *testing.T) {
		lister := &fakeLister{total: 2, failProbes: 2}
		err := newPaginator(lister, 5, 0).ForEach(context.Background(), func(map[string]interface{}) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 3, lister.probes)
	})

	t.Run("page fetch retried", func(t *testing.T) {
		lister := &fakeLister{total: 2, failPages: 1}
		count := 0
		err := newPaginator(lister, 5, 0).ForEach(context.Background(), func(map[string]interface{}) error {
			count++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("exhausted retries surface offset", func(t *testing.T) {
		lister := &fakeLister{total: 10, failPages: 10}
		err := newPaginator(lister, 5, 0).ForEach(context.Background(), func(map[string]interface{}) error { return nil })
		require.Error(t, err)

		e, ok := errors.As(err)
		require.True(t, ok)
		offset, _ := e.Detail("offset")
		assert.Equal(t, 0, offset)
	})
}

func TestPaginator_CallbackErrorStopsWalk(t *testing.T) {
	lister := &fakeLister{total: 10}
	boom := errors.New(errors.ErrorTypeData, "bad item")
	err := newPaginator(lister, 3, 0).ForEach(context.Background(), func(map[string]interface{}) error {
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, lister.pageCalls)
}
