// Package upstream implements the client for the project-management API:
// envelope-tolerant pagination, request rate limiting, retry with
// exponential backoff, and classification of upstream failures.
package upstream

import (
	"math"
	"strconv"
)

// Record is an opaque JSON object passed through from the upstream API.
// The caller owns interpretation; this layer only extracts identifying
// fields for index construction and filtering.
type Record map[string]any

// String returns the string value at key, or "".
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// ID returns the value at key normalized to its string form. Upstream
// identifiers arrive as either JSON numbers or strings depending on the
// endpoint.
func (r Record) ID(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Int returns the numeric value at key.
func (r Record) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean value at key, or false.
func (r Record) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Sub returns the nested object at key, or nil.
func (r Record) Sub(key string) Record {
	if v, ok := r[key].(map[string]any); ok {
		return Record(v)
	}
	return nil
}

// List returns the array of objects at key. Non-object elements are
// skipped.
func (r Record) List(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, Record(obj))
		}
	}
	return records
}
