package normalize

import (
	"fmt"
	"sort"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"go.uber.org/zap"
)

// Coercion names the target coercion for one export column
type Coercion string

const (
	// CoerceString passes the value through as a string
	CoerceString Coercion = "string"
	// CoerceNumber produces an integer when integral, else a float
	CoerceNumber Coercion = "number"
	// CoerceDate produces a canonical ISO-8601 timestamp; failure is fatal
	CoerceDate Coercion = "date"
	// CoerceDateTolerant logs and drops unparseable timestamps
	CoerceDateTolerant Coercion = "date_tolerant"
)

// FieldMapping maps a legacy export column to its canonical field. Key may be
// a dotted path for nested placement.
type FieldMapping struct {
	Key    string
	Coerce Coercion
}

// memberExportMappings maps the member export's legacy column names to
// canonical API fields. Columns mapped to nothing are known but intentionally
// dropped.
var memberExportMappings = map[string]*FieldMapping{
	"Email Address": {Key: "email_address", Coerce: CoerceString},
	"EUID":          {Key: "unique_email_id", Coerce: CoerceString},
	"MEMBER_RATING": {Key: "member_rating", Coerce: CoerceNumber},
	"OPTIN_TIME":    {Key: "timestamp_signup", Coerce: CoerceDate},
	"OPTIN_IP":      {Key: "ip_signup", Coerce: CoerceString},
	"CONFIRM_TIME":  {Key: "timestamp_opt", Coerce: CoerceDate},
	"CONFIRM_IP":    {Key: "ip_opt", Coerce: CoerceString},
	"LAST_CHANGED":  {Key: "last_changed", Coerce: CoerceDate},
	"LATITUDE":      {Key: "location.latitude", Coerce: CoerceNumber},
	"LONGITUDE":     {Key: "location.longitude", Coerce: CoerceNumber},
	"GMTOFF":        {Key: "location.gmtoff", Coerce: CoerceNumber},
	"DSTOFF":        {Key: "location.dstoff", Coerce: CoerceNumber},
	"TIMEZONE":      {Key: "location.timezone", Coerce: CoerceString},
	"CC":            {Key: "location.country_code", Coerce: CoerceString},
	"LEID":          nil,
	"NOTES":         nil,
	"REGION":        nil,
}

// MemberExportMappings builds the full rename table for one list: the fixed
// legacy columns plus one column per merge field from the list's catalog, with
// a coercion chosen from the merge field's declared type. Columns without a
// mapping are logged once and dropped from every row.
func MemberExportMappings(mergeFields []MergeFieldSpec, log *zap.Logger) map[string]*FieldMapping {
	mappings := make(map[string]*FieldMapping, len(memberExportMappings)+len(mergeFields))
	for col, m := range memberExportMappings {
		mappings[col] = m
	}

	for _, field := range mergeFields {
		coerce := CoerceString
		switch field.Type {
		case "number":
			coerce = CoerceNumber
		case "date":
			coerce = CoerceDateTolerant
		}
		mappings[field.Name] = &FieldMapping{
			Key:    "merge_fields." + field.Tag,
			Coerce: coerce,
		}
	}

	dropped := make([]string, 0)
	for col, m := range mappings {
		if m == nil {
			dropped = append(dropped, col)
		}
	}
	sort.Strings(dropped)
	log.Info("export columns without a canonical mapping will be dropped",
		zap.Strings("columns", dropped))

	return mappings
}

// MemberFromExport normalizes one flat member-export row into the canonical
// record shape. The record id is derived from the email address, since export
// rows carry no native id. Unknown columns are dropped; empty and nil values
// are skipped entirely rather than placed as empty strings. Any coercion
// failure wraps the cause with the offending column, value, and target
// coercion attached.
func MemberFromExport(mappings map[string]*FieldMapping, listID, status string, row map[string]interface{}, log *zap.Logger) (map[string]interface{}, error) {
	email, _ := row["Email Address"].(string)
	if email == "" {
		return nil, errors.New(errors.ErrorTypeData, "export row has no email address")
	}

	record := map[string]interface{}{
		"id":      EmailID(email),
		"list_id": listID,
		"status":  status,
	}

	for col, value := range row {
		mapping, known := mappings[col]
		if !known {
			log.Debug("dropping unmapped export column", zap.String("column", col))
			continue
		}
		if mapping == nil {
			continue
		}
		if value == nil || value == "" {
			continue
		}

		coerced, err := applyCoercion(mapping.Coerce, value, log)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot coerce export column").
				WithDetail("field", col).
				WithDetail("value", value).
				WithDetail("value_type", fmt.Sprintf("%T", value)).
				WithDetail("coerce", string(mapping.Coerce))
		}
		if coerced == nil {
			continue
		}
		SetDeep(record, mapping.Key, coerced)
	}

	return record, nil
}

func applyCoercion(c Coercion, v interface{}, log *zap.Logger) (interface{}, error) {
	switch c {
	case CoerceString:
		return fmt.Sprintf("%v", v), nil
	case CoerceNumber:
		return IntOrFloat(v)
	case CoerceDate:
		s, err := Datify(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	case CoerceDateTolerant:
		s := DatifyTolerant(v, log)
		if s == "" {
			return nil, nil
		}
		return s, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unknown coercion %q", string(c))
	}
}

// ActivityFromExport normalizes one activity-export row, a single-key mapping
// of email address to activity list, into the canonical record shape keyed by
// (campaign_id, email_id).
func ActivityFromExport(campaignID, listID string, row map[string]interface{}) (map[string]interface{}, error) {
	if len(row) != 1 {
		return nil, errors.Newf(errors.ErrorTypeData,
			"activity export row must have exactly one key, got %d", len(row))
	}

	record := make(map[string]interface{}, 5)
	for email, rawActivity := range row {
		activityList, ok := rawActivity.([]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData,
				"activity export value must be a list, got %T", rawActivity).
				WithDetail("email_address", email)
		}

		activity := make([]interface{}, 0, len(activityList))
		for _, rawItem := range activityList {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeData,
					"activity entry must be an object, got %T", rawItem).
					WithDetail("email_address", email)
			}
			timestamp, err := Datify(item["timestamp"])
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot coerce activity timestamp").
					WithDetail("field", "timestamp").
					WithDetail("value", item["timestamp"]).
					WithDetail("coerce", string(CoerceDate))
			}
			activity = append(activity, map[string]interface{}{
				"action":    item["action"],
				"ip":        item["ip"],
				"timestamp": timestamp,
			})
		}

		record["campaign_id"] = campaignID
		record["email_address"] = email
		record["email_id"] = EmailID(email)
		record["list_id"] = listID
		record["activity"] = activity
	}

	return record, nil
}
