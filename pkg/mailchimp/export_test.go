package mailchimp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mailtap/pkg/errors"
)

func TestClient_ExportMembers(t *testing.T) {
	var gotForm map[string]string

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"apikey": r.PostForm.Get("apikey"),
			"id":     r.PostForm.Get("id"),
			"status": r.PostForm.Get("status"),
			"since":  r.PostForm.Get("since"),
		}
		assert.Equal(t, "/export/1.0/list/", r.URL.Path)
		_, _ = w.Write([]byte(`["Email Address","MEMBER_RATING"]
["a@x.com","4"]

["b@x.com","2"]
`))
	}))

	since := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	var rows []map[string]interface{}
	err := client.ExportMembers(context.Background(), "list1", "subscribed", &since, func(row map[string]interface{}) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "key-us1", gotForm["apikey"])
	assert.Equal(t, "list1", gotForm["id"])
	assert.Equal(t, "subscribed", gotForm["status"])
	assert.Equal(t, "2020-01-02 03:04:05", gotForm["since"])

	require.Len(t, rows, 2)
	assert.Equal(t, "a@x.com", rows[0]["Email Address"])
	assert.Equal(t, "4", rows[0]["MEMBER_RATING"])
	assert.Equal(t, "b@x.com", rows[1]["Email Address"])
}

func TestClient_ExportMembers_ShortRow(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["Email Address","MEMBER_RATING","CC"]
["a@x.com","4"]
`))
	}))

	var rows []map[string]interface{}
	err := client.ExportMembers(context.Background(), "list1", "subscribed", nil, func(row map[string]interface{}) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "CC")
}

func TestClient_ExportMembers_ErrorLine(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["Email Address"]
{"error":"Invalid API Key","code":104}
`))
	}))

	err := client.ExportMembers(context.Background(), "list1", "subscribed", nil, func(row map[string]interface{}) error {
		t.Fatal("no rows expected")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRemote))

	e, _ := errors.As(err)
	code, _ := e.Detail("code")
	assert.Equal(t, float64(104), code)
}

func TestClient_ExportMembers_ErrorBeforeHeader(t *testing.T) {
	// list-level failures arrive as the only line, where the header would be
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"List does not exist","code":200}
`))
	}))

	err := client.ExportMembers(context.Background(), "nope", "subscribed", nil, func(row map[string]interface{}) error {
		t.Fatal("no rows expected")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRemote))

	e, _ := errors.As(err)
	code, _ := e.Detail("code")
	assert.Equal(t, float64(200), code)
	listID, _ := e.Detail("list_id")
	assert.Equal(t, "nope", listID)
}

func TestClient_ExportActivity(t *testing.T) {
	var gotForm map[string]string

	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"id":            r.PostForm.Get("id"),
			"include_empty": r.PostForm.Get("include_empty"),
			"since":         r.PostForm.Get("since"),
		}
		assert.Equal(t, "/export/1.0/campaignSubscriberActivity/", r.URL.Path)
		_, _ = w.Write([]byte(`{"a@x.com":[{"action":"open","timestamp":"2020-01-01 10:00:00","ip":"1.2.3.4"}]}

{"b@x.com":[]}
`))
	}))

	var objs []map[string]interface{}
	err := client.ExportActivity(context.Background(), "camp1", nil, true, func(obj map[string]interface{}) error {
		objs = append(objs, obj)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "camp1", gotForm["id"])
	assert.Equal(t, "true", gotForm["include_empty"])
	assert.Equal(t, "", gotForm["since"])

	require.Len(t, objs, 2)
	assert.Contains(t, objs[0], "a@x.com")
	assert.Contains(t, objs[1], "b@x.com")
}

func TestClient_ExportActivity_ErrorLine(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Campaign stats are not available","code":301}
`))
	}))

	err := client.ExportActivity(context.Background(), "camp1", nil, false, func(obj map[string]interface{}) error {
		t.Fatal("no rows expected")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRemote))

	e, _ := errors.As(err)
	campaignID, _ := e.Detail("campaign_id")
	assert.Equal(t, "camp1", campaignID)
}

func TestClient_ExportStatusError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := client.ExportMembers(context.Background(), "list1", "subscribed", nil, func(row map[string]interface{}) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
