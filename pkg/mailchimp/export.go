package mailchimp

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
	"github.com/ajitpratap0/mailtap/pkg/metrics"
)

// Export member statuses the remote recognizes. The bulk export endpoint
// serves one status per request, so a full member pull iterates all three.
var ExportMemberStatuses = []string{"subscribed", "unsubscribed", "cleaned"}

// exportScannerBuffer bounds a single export line. Activity rows for large
// sends can run long.
const exportScannerBuffer = 4 * 1024 * 1024

// ExportMembers streams the legacy bulk member export for one list and
// status. The first line of the response is an array of column headers; every
// further line is an array of values zipped with those headers into a flat
// row passed to fn. A callback error stops the stream and is returned as-is.
func (c *Client) ExportMembers(ctx context.Context, listID, status string, since *time.Time, fn func(row map[string]interface{}) error) error {
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("id", listID)
	form.Set("status", status)
	if since != nil {
		form.Set("since", since.UTC().Format(sinceLayout))
	}

	var header []string
	return c.streamExport(ctx, c.exportBaseURL+"/list/", form, "export_list", func(line []byte) error {
		if header == nil {
			cols, err := decodeExportStrings(line)
			if err != nil {
				if remoteErr := exportErrorLine(line); remoteErr != nil {
					return remoteErr.WithDetail("list_id", listID).WithDetail("status", status)
				}
				return errors.Wrap(err, errors.ErrorTypeData, "cannot decode export header").
					WithDetail("list_id", listID)
			}
			header = cols
			return nil
		}

		var values []interface{}
		if err := jsonutil.Unmarshal(line, &values); err != nil {
			if remoteErr := exportErrorLine(line); remoteErr != nil {
				return remoteErr.WithDetail("list_id", listID).WithDetail("status", status)
			}
			return errors.Wrap(err, errors.ErrorTypeData, "cannot decode export row").
				WithDetail("list_id", listID)
		}

		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(values) {
				break
			}
			row[col] = values[i]
		}
		return fn(row)
	})
}

// ExportActivity streams the legacy bulk activity export for one campaign.
// Each line is a single-key object mapping an email address to its activity
// list. An error line from the remote fails this campaign only.
func (c *Client) ExportActivity(ctx context.Context, campaignID string, since *time.Time, includeEmpty bool, fn func(obj map[string]interface{}) error) error {
	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("id", campaignID)
	if since != nil {
		form.Set("since", since.UTC().Format(sinceLayout))
	}
	if includeEmpty {
		form.Set("include_empty", "true")
	}

	return c.streamExport(ctx, c.exportBaseURL+"/campaignSubscriberActivity/", form, "export_activity", func(line []byte) error {
		var obj map[string]interface{}
		if err := jsonutil.Unmarshal(line, &obj); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "cannot decode activity line").
				WithDetail("campaign_id", campaignID)
		}
		if remoteErr := exportErrorObject(obj); remoteErr != nil {
			return remoteErr.
				WithDetail("campaign_id", campaignID).
				WithDetail("since", form.Get("since"))
		}
		return fn(obj)
	})
}

// streamExport issues the POST and feeds each non-blank response line to the
// line callback, one decoded line in memory at a time.
func (c *Client) streamExport(ctx context.Context, rawURL string, form url.Values, label string, fn func(line []byte) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait interrupted")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot build export request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	timer := metrics.NewRequestTimer(label)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		timer.Stop()
		return classifyTransportError(err, req.URL.Path)
	}
	defer resp.Body.Close()
	defer timer.Stop()

	if resp.StatusCode >= 400 {
		scanner := bufio.NewScanner(resp.Body)
		body := ""
		if scanner.Scan() {
			body = scanner.Text()
		}
		return classifyStatus(resp.StatusCode, []byte(body), req.URL.Path)
	}

	c.log.Debug("export stream opened", zap.String("url", req.URL.Path))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), exportScannerBuffer)
	lines := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		if err := fn([]byte(line)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "export stream interrupted").
			WithDetail("path", req.URL.Path).
			WithDetail("lines_read", lines)
	}
	return nil
}

// decodeExportStrings decodes a JSON array of header strings.
func decodeExportStrings(line []byte) ([]string, error) {
	var raw []interface{}
	if err := jsonutil.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	cols := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "header column %d is not a string", i)
		}
		cols[i] = s
	}
	return cols, nil
}

// exportErrorLine decodes a line as a remote error object, returning nil when
// the line is not one.
func exportErrorLine(line []byte) *errors.Error {
	var obj map[string]interface{}
	if err := jsonutil.Unmarshal(line, &obj); err != nil {
		return nil
	}
	return exportErrorObject(obj)
}

// exportErrorObject recognizes the remote's in-band error shape
// {"error": ..., "code": ...} and converts it to a remote error.
func exportErrorObject(obj map[string]interface{}) *errors.Error {
	message, hasError := obj["error"]
	if !hasError {
		return nil
	}
	e := errors.New(errors.ErrorTypeRemote, "export reported an error").
		WithDetail("error", message)
	if code, ok := obj["code"]; ok {
		e = e.WithDetail("code", code)
	}
	return e
}
