package normalize

import "github.com/ajitpratap0/mailtap/pkg/errors"

// ScrubBlankDateTimes removes record fields that the schema declares as
// date-time but whose value is the empty string, so downstream format
// validation does not reject an otherwise sound record. The record is
// modified in place. Objects and arrays are walked against their sub-schemas;
// a record value whose shape disagrees with the schema is a data error.
func ScrubBlankDateTimes(schema, record map[string]interface{}) error {
	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	for name, rawProp := range properties {
		prop, ok := rawProp.(map[string]interface{})
		if !ok {
			continue
		}
		value, present := record[name]
		if !present || value == nil {
			continue
		}

		if prop["format"] == "date-time" {
			s, ok := value.(string)
			if !ok {
				return errors.Newf(errors.ErrorTypeData,
					"expected a date-time string, got %T", value).
					WithDetail("field", name)
			}
			if s == "" {
				delete(record, name)
			}
			continue
		}

		if _, isObject := prop["properties"]; isObject {
			child, ok := value.(map[string]interface{})
			if !ok {
				return errors.Newf(errors.ErrorTypeData,
					"expected an object, got %T", value).
					WithDetail("field", name)
			}
			if err := ScrubBlankDateTimes(prop, child); err != nil {
				return err
			}
			continue
		}

		items, ok := prop["items"].(map[string]interface{})
		if !ok {
			continue
		}
		entries, ok := value.([]interface{})
		if !ok {
			return errors.Newf(errors.ErrorTypeData,
				"expected an array, got %T", value).
				WithDetail("field", name)
		}

		if items["format"] == "date-time" {
			kept := make([]interface{}, 0, len(entries))
			for _, rawEntry := range entries {
				s, ok := rawEntry.(string)
				if !ok {
					return errors.Newf(errors.ErrorTypeData,
						"expected a date-time string, got %T", rawEntry).
						WithDetail("field", name)
				}
				if s == "" {
					continue
				}
				kept = append(kept, s)
			}
			record[name] = kept
			continue
		}

		for _, rawEntry := range entries {
			if entry, ok := rawEntry.(map[string]interface{}); ok {
				if err := ScrubBlankDateTimes(items, entry); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
