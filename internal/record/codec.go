package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// maxDecodeDepth bounds how many layers of JSON-inside-JSON-text DecodeFromStorage expands.
const maxDecodeDepth = 4

// EncodeOptions controls EncodeForStorage.
type EncodeOptions struct {
	// DropRaw removes the raw payload field instead of encoding it.
	// Set when the payload is archived on the filesystem.
	DropRaw bool
}

// DecodeOptions controls DecodeFromStorage.
type DecodeOptions struct {
	// DropNulls removes fields whose stored value is null.
	DropNulls bool
}

// EncodeForStorage returns a copy of r ready for the record store.
//
// Slices, arrays and maps become JSON text; time.Time and Date become
// ISO-8601 text. Strings, numbers, booleans, nil and []byte pass through.
// r is never modified.
func EncodeForStorage(r Record, opts EncodeOptions) (Record, error) {
	out := make(Record, len(r))
	for k, v := range r {
		if k == RawDataField && opts.DropRaw {
			continue
		}
		enc, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, []byte, bool:
		return v, nil
	case time.Time:
		return FormatTime(val), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return FormatTime(*val), nil
	case Date:
		return val.String(), nil
	case json.RawMessage:
		return string(val), nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return marshalJSON(v)
	default:
		return v, nil
	}
}

// marshalJSON encodes v without HTML escaping so stored text matches the payload.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeFromStorage returns a copy of a stored row with JSON text expanded.
//
// Any string holding a JSON object or array is replaced by its decoded form,
// and strings nested inside decoded values that themselves hold JSON objects
// or arrays are expanded as well. Other values pass through. The raw payload
// field is always dropped.
func DecodeFromStorage(r Record, opts DecodeOptions) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if k == RawDataField {
			continue
		}
		if v == nil {
			if !opts.DropNulls {
				out[k] = nil
			}
			continue
		}
		out[k] = decodeValue(v, 0)
	}
	return out
}

func decodeValue(v any, depth int) any {
	switch val := v.(type) {
	case string:
		if depth >= maxDecodeDepth {
			return val
		}
		if parsed, ok := parseStructured(val); ok {
			return decodeValue(parsed, depth+1)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = decodeValue(elem, depth)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = decodeValue(elem, depth)
		}
		return out
	default:
		return v
	}
}

// parseStructured decodes s when it is a JSON object or array.
func parseStructured(s string) (any, bool) {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return nil, false
	}
	var out any
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return nil, false
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, true
	default:
		return nil, false
	}
}

// MarshalJSON renders r as a single JSON object with timestamps in ISO-8601 form.
func MarshalJSON(r Record) ([]byte, error) {
	out := make(map[string]any, len(r))
	for k, v := range r {
		switch val := v.(type) {
		case time.Time:
			out[k] = FormatTime(val)
		case Date:
			out[k] = val.String()
		default:
			out[k] = v
		}
	}
	s, err := marshalJSON(out)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return []byte(s), nil
}
