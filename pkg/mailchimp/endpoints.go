package mailchimp

import (
	"strings"

	"github.com/ajitpratap0/mailtap/pkg/errors"
)

// Stream identifiers. Dotted ids mirror the API resource hierarchy.
const (
	StreamLists         = "lists"
	StreamListMembers   = "lists.members"
	StreamCampaigns     = "campaigns"
	StreamEmailActivity = "reports.email_activity"
)

// Endpoint describes one paginated collection of the v3 API.
type Endpoint struct {
	// ID is the stream identifier the endpoint serves
	ID string
	// Path is the request path template with {param} placeholders
	Path string
	// CollectionKey is the response key holding the item array
	CollectionKey string
	// SchemaPath locates the item schema under /schema/3.0/
	SchemaPath string
}

var endpoints = map[string]Endpoint{
	StreamLists: {
		ID:            StreamLists,
		Path:          "/lists",
		CollectionKey: "lists",
		SchemaPath:    "Lists/Instance.json",
	},
	StreamListMembers: {
		ID:            StreamListMembers,
		Path:          "/lists/{list_id}/members",
		CollectionKey: "members",
		SchemaPath:    "Lists/Members/Instance.json",
	},
	StreamCampaigns: {
		ID:            StreamCampaigns,
		Path:          "/campaigns",
		CollectionKey: "campaigns",
		SchemaPath:    "Campaigns/Instance.json",
	},
	StreamEmailActivity: {
		ID:            StreamEmailActivity,
		Path:          "/reports/{campaign_id}/email-activity",
		CollectionKey: "emails",
		SchemaPath:    "Reports/EmailActivity/Instance.json",
	},
}

// EndpointFor looks up the endpoint serving a stream id.
func EndpointFor(streamID string) (Endpoint, error) {
	ep, ok := endpoints[streamID]
	if !ok {
		return Endpoint{}, errors.Newf(errors.ErrorTypeInternal, "no endpoint for stream %q", streamID)
	}
	return ep, nil
}

// expandPath substitutes {param} placeholders in a path template.
func expandPath(template string, params map[string]string) (string, error) {
	path := template
	for key, value := range params {
		path = strings.ReplaceAll(path, "{"+key+"}", value)
	}
	if strings.Contains(path, "{") {
		return "", errors.Newf(errors.ErrorTypeInternal, "unresolved path parameter in %q", path)
	}
	return path, nil
}
