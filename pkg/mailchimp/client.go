// Package mailchimp implements the remote API surface of the tap: the
// paginated v3 endpoints, the legacy bulk export endpoints, and the published
// JSON schemas. All requests are synchronous, rate limited when configured,
// and classified into the tap's error taxonomy so callers can decide
// retryability without inspecting HTTP details.
package mailchimp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/config"
	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
	"github.com/ajitpratap0/mailtap/pkg/tap/normalize"
)

// sinceLayout is the wire format the remote accepts for time filters.
const sinceLayout = "2006-01-02 15:04:05"

// Client talks to the remote account. One client serves a full extraction run.
type Client struct {
	baseURL       string
	exportBaseURL string
	userName      string
	apiKey        string
	userAgent     string
	keepLinks     bool

	httpClient *http.Client
	limiter    *TokenBucket
	log        *zap.Logger

	schemaCache map[string]map[string]interface{}
}

// New creates a client from validated configuration. The API datacenter is
// derived from the api key suffix unless an explicit base URL is configured.
func New(cfg *config.Config, log *zap.Logger) (*Client, error) {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		idx := strings.LastIndex(cfg.APIKey, "-")
		if idx < 0 || idx == len(cfg.APIKey)-1 {
			return nil, errors.New(errors.ErrorTypeConfig,
				"api_key has no datacenter suffix and no api_base_url is configured")
		}
		baseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", cfg.APIKey[idx+1:])
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	var limiter *TokenBucket
	if cfg.RateLimitPerSec > 0 {
		limiter = NewTokenBucket(float64(cfg.RateLimitPerSec), cfg.RateLimitPerSec)
	}

	return &Client{
		baseURL:       baseURL,
		exportBaseURL: strings.TrimSuffix(baseURL, "/3.0") + "/export/1.0",
		userName:      cfg.UserName,
		apiKey:        cfg.APIKey,
		userAgent:     cfg.UserAgent,
		keepLinks:     cfg.KeepLinks,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout(),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:     limiter,
		log:         log,
		schemaCache: make(map[string]map[string]interface{}),
	}, nil
}

// ListOptions shapes one page request against a paginated endpoint.
type ListOptions struct {
	Offset     int
	Count      int
	Filters    url.Values
	PathParams map[string]string
}

// Page is one fetched slice of a collection plus the collection's total size.
type Page struct {
	Items      []map[string]interface{}
	TotalItems int
}

// List fetches one page of a collection. Link noise is excluded at the source
// unless keep_links is configured.
func (c *Client) List(ctx context.Context, endpoint Endpoint, opts ListOptions) (*Page, error) {
	path, err := expandPath(endpoint.Path, opts.PathParams)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, values := range opts.Filters {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("offset", fmt.Sprintf("%d", opts.Offset))
	query.Set("count", fmt.Sprintf("%d", opts.Count))
	if !c.keepLinks && query.Get("fields") == "" {
		query.Set("exclude_fields", "_links,"+endpoint.CollectionKey+"._links")
	}

	body, err := c.getJSON(ctx, c.baseURL+path, query, endpoint.ID)
	if err != nil {
		return nil, err
	}

	rawItems, ok := body[endpoint.CollectionKey].([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeRemote,
			"response has no %q collection", endpoint.CollectionKey)
	}

	items := make([]map[string]interface{}, 0, len(rawItems))
	for _, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeRemote,
				"collection %q contains a non-object item", endpoint.CollectionKey)
		}
		items = append(items, item)
	}

	metrics.PageFetches.WithLabelValues(endpoint.ID).Inc()

	return &Page{
		Items:      items,
		TotalItems: intField(body, "total_items"),
	}, nil
}

// TotalItems probes the collection size with a minimal request so pagination
// has a denominator before the first full page.
func (c *Client) TotalItems(ctx context.Context, endpoint Endpoint, opts ListOptions) (int, error) {
	path, err := expandPath(endpoint.Path, opts.PathParams)
	if err != nil {
		return 0, err
	}

	query := url.Values{}
	for key, values := range opts.Filters {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("fields", "total_items")
	query.Set("count", "1")

	body, err := c.getJSON(ctx, c.baseURL+path, query, endpoint.ID)
	if err != nil {
		return 0, err
	}
	return intField(body, "total_items"), nil
}

// CampaignListID resolves the audience list a campaign was sent to.
func (c *Client) CampaignListID(ctx context.Context, campaignID string) (string, error) {
	query := url.Values{}
	query.Set("fields", "recipients.list_id")

	body, err := c.getJSON(ctx, c.baseURL+"/campaigns/"+campaignID, query, "campaigns")
	if err != nil {
		return "", err
	}

	recipients, _ := body["recipients"].(map[string]interface{})
	listID, _ := recipients["list_id"].(string)
	if listID == "" {
		return "", errors.New(errors.ErrorTypeRemote, "campaign has no recipients list").
			WithDetail("campaign_id", campaignID)
	}
	return listID, nil
}

// MergeFieldSpecs fetches the merge field catalog for a list, limited to the
// fields the normalizer needs.
func (c *Client) MergeFieldSpecs(ctx context.Context, listID string) ([]normalize.MergeFieldSpec, error) {
	query := url.Values{}
	query.Set("count", "1000")
	query.Set("fields", "merge_fields.merge_id,merge_fields.tag,merge_fields.name,merge_fields.type")

	body, err := c.getJSON(ctx, c.baseURL+"/lists/"+listID+"/merge-fields", query, "merge_fields")
	if err != nil {
		return nil, err
	}

	rawFields, ok := body["merge_fields"].([]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeRemote, "merge field catalog has no merge_fields collection").
			WithDetail("list_id", listID)
	}

	specs := make([]normalize.MergeFieldSpec, 0, len(rawFields))
	for _, raw := range rawFields {
		field, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		spec := normalize.MergeFieldSpec{}
		if id, ok := field["merge_id"].(float64); ok {
			spec.MergeID = int(id)
		}
		spec.Tag, _ = field["tag"].(string)
		spec.Name, _ = field["name"].(string)
		spec.Type, _ = field["type"].(string)
		specs = append(specs, spec)
	}
	return specs, nil
}

// getJSON issues an authenticated GET and decodes the JSON object response.
func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, endpointLabel string) (map[string]interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait interrupted")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot build request")
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.SetBasicAuth(c.userName, c.apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	timer := metrics.NewRequestTimer(endpointLabel)
	resp, err := c.httpClient.Do(req)
	timer.Stop()
	if err != nil {
		return nil, classifyTransportError(err, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "cannot read response body").
				WithDetail("path", req.URL.Path)
		}
		return nil, classifyStatus(resp.StatusCode, data, req.URL.Path)
	}

	var body map[string]interface{}
	if err := jsonutil.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot decode response body").
			WithDetail("path", req.URL.Path)
	}
	return body, nil
}

// classifyTransportError maps transport failures into the error taxonomy.
// Context deadline failures rank as timeouts, everything else as connection
// trouble; both are retryable.
func classifyTransportError(err error, path string) *errors.Error {
	errType := errors.ErrorTypeConnection
	if strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded") {
		errType = errors.ErrorTypeTimeout
	}
	return errors.Wrap(err, errType, "request failed").WithDetail("path", path)
}

// classifyStatus maps HTTP statuses into the error taxonomy. Server-side
// statuses are retryable connection errors; client statuses are terminal.
func classifyStatus(status int, body []byte, path string) error {
	if status < 400 {
		return nil
	}

	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	_ = jsonutil.Unmarshal(body, &problem)

	e := errors.Newf(statusErrorType(status), "remote returned status %d", status).
		WithDetail("path", path).
		WithDetail("status", status)
	if problem.Title != "" {
		e = e.WithDetail("title", problem.Title)
	}
	if problem.Detail != "" {
		e = e.WithDetail("detail", problem.Detail)
	}
	return e
}

func statusErrorType(status int) errors.ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return errors.ErrorTypeRateLimit
	case status >= 500:
		return errors.ErrorTypeConnection
	case status == http.StatusNotFound:
		return errors.ErrorTypeNotFound
	default:
		return errors.ErrorTypeRemote
	}
}

func intField(body map[string]interface{}, key string) int {
	switch v := body[key].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
