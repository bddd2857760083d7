package normalize

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"go.uber.org/zap"
)

// timeLayouts are tried in order when parsing source timestamps. Layouts
// without a zone designator parse as UTC, which is the wire contract for
// naive remote timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"2006-01-02T15:04:05Z0700",
}

// ParseTime parses a source timestamp string. Timestamps without timezone
// information are assumed to be UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeData, "unparseable timestamp %q", s)
}

// FormatTime renders a timestamp as ISO-8601 with an explicit UTC offset,
// never the shorthand "Z" (downstream schema validators expect the offset
// form, and so does the persisted state layout).
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999") + "+00:00"
}

// Datify coerces a raw value into the canonical ISO-8601 string form.
// Nil and empty-string inputs return the empty string, which callers treat
// as "field absent". Unparseable non-empty values are an error.
func Datify(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case time.Time:
		return FormatTime(val), nil
	case string:
		if val == "" {
			return "", nil
		}
		t, err := ParseTime(val)
		if err != nil {
			return "", err
		}
		return FormatTime(t), nil
	default:
		return "", errors.Newf(errors.ErrorTypeData, "cannot coerce %T to date-time", v)
	}
}

// DatifyTolerant is the tolerant variant used in contexts where a bad date is
// logged and dropped rather than fatal. It returns the empty string on any
// parse failure.
func DatifyTolerant(v interface{}, log *zap.Logger) string {
	s, err := Datify(v)
	if err != nil {
		log.Warn("dropping unparseable date value",
			zap.Any("value", v),
			zap.Error(err))
		return ""
	}
	return s
}

// IntOrFloat coerces a raw value into an int64 when it is integral, falling
// back to float64. Mirrors the numeric handling of the bulk-export rows,
// where everything arrives as a string.
func IntOrFloat(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	case string:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData,
				fmt.Sprintf("cannot coerce %q to a number", val))
		}
		return f, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "cannot coerce %T to a number", v)
	}
}
