package mailchimp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/errors"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.New()
	cfg.UserName = "tester"
	cfg.APIKey = "key-us1"
	cfg.APIBaseURL = server.URL + "/3.0"

	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return client, server
}

func TestNew_DatacenterFromKey(t *testing.T) {
	cfg := config.New()
	cfg.UserName = "tester"
	cfg.APIKey = "0123abcd-us14"

	client, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "https://us14.api.mailchimp.com/3.0", client.baseURL)
	assert.Equal(t, "https://us14.api.mailchimp.com/export/1.0", client.exportBaseURL)
}

func TestNew_MissingDatacenter(t *testing.T) {
	cfg := config.New()
	cfg.UserName = "tester"
	cfg.APIKey = "nodatacenter"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestClient_List(t *testing.T) {
	var gotQuery map[string]string
	var gotUser, gotPass string

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lists":[{"id":"a"},{"id":"b"}],"total_items":7}`))
	}))

	endpoint, err := EndpointFor(StreamLists)
	require.NoError(t, err)

	page, err := client.List(context.Background(), endpoint, ListOptions{Offset: 2, Count: 5})
	require.NoError(t, err)

	assert.Equal(t, "tester", gotUser)
	assert.Equal(t, "key-us1", gotPass)
	assert.Equal(t, "2", gotQuery["offset"])
	assert.Equal(t, "5", gotQuery["count"])
	assert.Equal(t, "_links,lists._links", gotQuery["exclude_fields"])

	require.Len(t, page.Items, 2)
	assert.Equal(t, "a", page.Items[0]["id"])
	assert.Equal(t, 7, page.TotalItems)
}

func TestClient_List_KeepLinks(t *testing.T) {
	var excludeFields string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		excludeFields = r.URL.Query().Get("exclude_fields")
		_, _ = w.Write([]byte(`{"lists":[],"total_items":0}`))
	}))
	client.keepLinks = true

	endpoint, _ := EndpointFor(StreamLists)
	_, err := client.List(context.Background(), endpoint, ListOptions{Count: 5})
	require.NoError(t, err)
	assert.Equal(t, "", excludeFields)
}

func TestClient_List_PathParams(t *testing.T) {
	var gotPath string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"members":[],"total_items":0}`))
	}))

	endpoint, _ := EndpointFor(StreamListMembers)
	_, err := client.List(context.Background(), endpoint, ListOptions{
		Count:      5,
		PathParams: map[string]string{"list_id": "list9"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/3.0/lists/list9/members", gotPath)
}

func TestClient_List_MissingPathParam(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	endpoint, _ := EndpointFor(StreamListMembers)
	_, err := client.List(context.Background(), endpoint, ListOptions{Count: 5})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantType  errors.ErrorType
		retryable bool
	}{
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit, true},
		{http.StatusInternalServerError, errors.ErrorTypeConnection, true},
		{http.StatusBadGateway, errors.ErrorTypeConnection, true},
		{http.StatusNotFound, errors.ErrorTypeNotFound, false},
		{http.StatusBadRequest, errors.ErrorTypeRemote, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"title":"Problem","detail":"something"}`))
			}))

			endpoint, _ := EndpointFor(StreamLists)
			_, err := client.List(context.Background(), endpoint, ListOptions{Count: 5})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestClient_TotalItems(t *testing.T) {
	var gotQuery map[string]string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"fields": r.URL.Query().Get("fields"),
			"count":  r.URL.Query().Get("count"),
		}
		_, _ = w.Write([]byte(`{"total_items":123}`))
	}))

	endpoint, _ := EndpointFor(StreamCampaigns)
	total, err := client.TotalItems(context.Background(), endpoint, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 123, total)
	assert.Equal(t, "total_items", gotQuery["fields"])
	assert.Equal(t, "1", gotQuery["count"])
}

func TestClient_CampaignListID(t *testing.T) {
	t.Run("resolves list", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/3.0/campaigns/camp1", r.URL.Path)
			_, _ = w.Write([]byte(`{"recipients":{"list_id":"list5"}}`))
		}))

		listID, err := client.CampaignListID(context.Background(), "camp1")
		require.NoError(t, err)
		assert.Equal(t, "list5", listID)
	})

	t.Run("missing recipients is a remote error", func(t *testing.T) {
		client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))

		_, err := client.CampaignListID(context.Background(), "camp1")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeRemote))
	})
}

func TestClient_MergeFieldSpecs(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3.0/lists/list1/merge-fields", r.URL.Path)
		_, _ = w.Write([]byte(`{"merge_fields":[
			{"merge_id":1,"tag":"FNAME","name":"First Name","type":"text"},
			{"merge_id":2,"tag":"AGE","name":"Age","type":"number"}
		]}`))
	}))

	specs, err := client.MergeFieldSpecs(context.Background(), "list1")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, 1, specs[0].MergeID)
	assert.Equal(t, "FNAME", specs[0].Tag)
	assert.Equal(t, "number", specs[1].Type)
}
