// Package normalize transforms raw remote records, from both the paginated
// API shape and the bulk-export shape, into one canonical output shape.
// All functions here are pure: no I/O, coercion failures surface as typed
// errors carrying the offending field and value.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// MergeFieldSpec describes one caller-defined merge field from the remote
// merge-field catalog.
type MergeFieldSpec struct {
	MergeID int    `json:"merge_id"`
	Tag     string `json:"tag"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

// EmailID derives the stable pseudonymous member id from an email address:
// lower-case, MD5, hex. Must stay bit-for-bit reproducible across runs.
func EmailID(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// SetDeep places a value into a nested mapping at a dotted path, creating
// intermediate maps as needed (e.g. "location.country_code").
func SetDeep(m map[string]interface{}, dottedKey string, value interface{}) {
	parts := strings.Split(dottedKey, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			m[part] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

// StripLinks removes _links navigation metadata from a record, recursively
// through nested mappings and arrays.
func StripLinks(record map[string]interface{}) {
	delete(record, "_links")
	for _, v := range record {
		stripLinksValue(v)
	}
}

func stripLinksValue(v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		StripLinks(val)
	case []interface{}:
		for _, item := range val {
			stripLinksValue(item)
		}
	}
}

// CatalogByTag indexes a merge field catalog by tag for flattening lookups.
func CatalogByTag(specs []MergeFieldSpec) map[string]MergeFieldSpec {
	catalog := make(map[string]MergeFieldSpec, len(specs))
	for _, spec := range specs {
		catalog[spec.Tag] = spec
	}
	return catalog
}

// FlattenMergeFields replaces the record's merge_fields mapping with an array
// of {merge_id, tag, name, type, value} objects, so that caller-defined tags
// fit a fixed sub-schema. Tags missing from the catalog keep zero metadata
// rather than being dropped.
func FlattenMergeFields(record map[string]interface{}, catalog map[string]MergeFieldSpec) {
	raw, ok := record["merge_fields"].(map[string]interface{})
	if !ok {
		record["merge_fields"] = []interface{}{}
		return
	}

	flat := make([]interface{}, 0, len(raw))
	for tag, value := range raw {
		spec := catalog[tag]
		flat = append(flat, map[string]interface{}{
			"merge_id": spec.MergeID,
			"tag":      tag,
			"name":     spec.Name,
			"type":     spec.Type,
			"value":    fmt.Sprintf("%v", value),
		})
	}
	record["merge_fields"] = flat
}

// FlattenInterests replaces the record's interests mapping with an array of
// {id, value} objects.
func FlattenInterests(record map[string]interface{}) {
	raw, ok := record["interests"].(map[string]interface{})
	if !ok {
		record["interests"] = []interface{}{}
		return
	}

	flat := make([]interface{}, 0, len(raw))
	for id, value := range raw {
		flat = append(flat, map[string]interface{}{
			"id":    id,
			"value": value,
		})
	}
	record["interests"] = flat
}

// MemberArraySchemas rewrites the member item schema so that merge_fields
// and/or interests are arrays of tagged objects instead of open mappings,
// matching the flattening applied to records.
func MemberArraySchemas(schema map[string]interface{}, mergeFieldsArray, interestsArray bool) {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}

	if mergeFieldsArray {
		props["merge_fields"] = map[string]interface{}{
			"description": propDescription(props, "merge_fields"),
			"type":        "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"merge_id": map[string]interface{}{"type": "number"},
					"tag":      map[string]interface{}{"type": "string"},
					"name":     map[string]interface{}{"type": "string"},
					"type":     map[string]interface{}{"type": "string"},
					"value":    map[string]interface{}{"type": "string"},
				},
			},
		}
	}

	if interestsArray {
		props["interests"] = map[string]interface{}{
			"description": propDescription(props, "interests"),
			"type":        "array",
			"items":       map[string]interface{}{"type": "object"},
		}
	}
}

func propDescription(props map[string]interface{}, name string) string {
	prop, ok := props[name].(map[string]interface{})
	if !ok {
		return ""
	}
	desc, _ := prop["description"].(string)
	return desc
}
