// Package record defines the Record value every bot produces and the codec
// that moves records between their structured form and the flat form kept in
// the record store.
//
// A Record is a plain map from field name to value. Values are whatever the
// source's normalizer produced: strings, numbers, booleans, nil, time.Time,
// Date, or nested slices and maps. Before storage, structured values are
// flattened to JSON text and timestamps to ISO-8601 text; on the way back,
// JSON text is expanded again.
//
// # Reserved fields
//
//   - uid: default primary-key field (per-bot configurable)
//   - retrieved_at: when the record was last fetched from its source
//   - data: transient raw payload, never returned from the store
package record

import (
	"fmt"
	"time"
)

const (
	// DefaultPrimaryKey is the primary-key field used when a bot doesn't name one.
	DefaultPrimaryKey = "uid"

	// RetrievedAtField holds the fetch timestamp of a record.
	RetrievedAtField = "retrieved_at"

	// RawDataField holds the raw, unprocessed payload of a record.
	RawDataField = "data"
)

// Record is a mapping from field name to value.
type Record map[string]any

// Clone returns a shallow copy of r. Nested slices and maps are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without returns a shallow copy of r with the given fields removed.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Has reports whether field is present, even if its value is nil.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String returns the ISO-8601 form, e.g. "2012-04-23".
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// MarshalJSON encodes d as an ISO-8601 date string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}
