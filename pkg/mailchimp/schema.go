package mailchimp

import (
	"context"
	"net/url"
	"strings"

	"github.com/ajitpratap0/mailtap/pkg/errors"
)

// ItemSchema fetches the published JSON schema for an endpoint's items and
// resolves its $ref nodes in place. Resolved schemas are cached per endpoint
// so repeated stream runs within one process fetch each schema once.
func (c *Client) ItemSchema(ctx context.Context, endpoint Endpoint) (map[string]interface{}, error) {
	if cached, ok := c.schemaCache[endpoint.ID]; ok {
		return cached, nil
	}

	schemaURL := c.schemaRoot() + "/" + endpoint.SchemaPath
	doc, err := c.fetchSchemaDoc(ctx, schemaURL)
	if err != nil {
		return nil, err
	}

	resolved, err := c.resolveRefs(ctx, doc, schemaURL, map[string]bool{schemaURL: true})
	if err != nil {
		return nil, err
	}
	schema, ok := resolved.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeRemote, "schema at %s is not an object", schemaURL)
	}

	c.schemaCache[endpoint.ID] = schema
	return schema, nil
}

// schemaRoot returns the schema host for the configured datacenter.
func (c *Client) schemaRoot() string {
	return strings.TrimSuffix(c.baseURL, "/3.0") + "/schema/3.0"
}

func (c *Client) fetchSchemaDoc(ctx context.Context, schemaURL string) (map[string]interface{}, error) {
	return c.getJSON(ctx, schemaURL, nil, "schema")
}

// resolveRefs walks the schema and replaces each $ref node with the resolved
// content of its target, merging any sibling keys over it. Targets seen on
// the current path are left unresolved so circular definitions terminate.
func (c *Client) resolveRefs(ctx context.Context, node interface{}, base string, visited map[string]bool) (interface{}, error) {
	switch typed := node.(type) {
	case map[string]interface{}:
		if ref, ok := typed["$ref"].(string); ok {
			refURL, err := resolveSchemaURL(base, ref)
			if err != nil {
				return nil, err
			}
			if visited[refURL] {
				out := make(map[string]interface{}, len(typed))
				for k, v := range typed {
					if k != "$ref" {
						out[k] = v
					}
				}
				return out, nil
			}

			target, err := c.fetchSchemaDoc(ctx, refURL)
			if err != nil {
				return nil, err
			}
			visited[refURL] = true
			resolved, err := c.resolveRefs(ctx, target, refURL, visited)
			delete(visited, refURL)
			if err != nil {
				return nil, err
			}
			merged, ok := resolved.(map[string]interface{})
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeRemote, "$ref target %s is not an object", refURL)
			}
			for k, v := range typed {
				if k != "$ref" {
					merged[k] = v
				}
			}
			return merged, nil
		}

		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			resolved, err := c.resolveRefs(ctx, v, base, visited)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, v := range typed {
			resolved, err := c.resolveRefs(ctx, v, base, visited)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return node, nil
	}
}

// resolveSchemaURL resolves a $ref value against the document it appears in.
func resolveSchemaURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "cannot parse schema base URL")
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "cannot parse $ref").WithDetail("ref", ref)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
