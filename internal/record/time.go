package record

import (
	"fmt"
	"strings"
	"time"
)

// timeLayouts are the stored timestamp forms ParseTime accepts, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatTime returns the canonical stored form of t (ISO-8601 with offset, second precision).
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTime parses a stored timestamp. Bare dates are taken as midnight UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unrecognized format", s)
}

// TimeValue interprets a stored or in-memory value as a timestamp.
// Returns ok=false for nil, empty strings, and values that are not timestamps.
func TimeValue(v any) (t time.Time, ok bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, true
	case Date:
		return val.In(time.UTC), true
	case string:
		if val == "" {
			return time.Time{}, false
		}
		parsed, err := ParseTime(val)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case []byte:
		return TimeValue(string(val))
	default:
		return time.Time{}, false
	}
}
