package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Reserved record fields.
const (
	FieldID        = "id"
	FieldType      = "type"
	FieldSessionID = "session_id"
	FieldThreadID  = "thread_id"
	FieldMetadata  = "metadata"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"

	// FieldTTL requests a per-record time-to-live in seconds. It is never
	// stored; backends without expiry ignore it.
	FieldTTL = "_ttl"
)

// TimeLayout is the fixed layout used for created_at/updated_at.
// Fixed width in UTC, so lexicographic order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Record is a schemaless stored document keyed by its "id" field.
//
// Values live in the JSON value domain: string, float64, bool, nil,
// []any and map[string]any. Use Normalize to coerce arbitrary Go values.
type Record map[string]any

// ID returns the record id, or "" when absent or not a string.
func (r Record) ID() string { return r.String(FieldID) }

// Type returns the record type.
func (r Record) Type() string { return r.String(FieldType) }

// SessionID returns the session the record belongs to.
func (r Record) SessionID() string { return r.String(FieldSessionID) }

// ThreadID returns the thread the record belongs to.
func (r Record) ThreadID() string { return r.String(FieldThreadID) }

// String returns field as a string, or "" if it is missing or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// CreatedAt parses the created_at field. The zero time is returned when the
// field is missing or malformed.
func (r Record) CreatedAt() time.Time { return r.timeField(FieldCreatedAt) }

// UpdatedAt parses the updated_at field.
func (r Record) UpdatedAt() time.Time { return r.timeField(FieldUpdatedAt) }

func (r Record) timeField(field string) time.Time {
	s, ok := r[field].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Record:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// NewID generates a record id.
func NewID() string {
	return uuid.NewString()
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime. RFC 3339 values are
// accepted as well so that caller-supplied timestamps round-trip.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Normalize coerces rec into the JSON value domain. Integers become
// float64, typed slices and maps become []any and map[string]any, and
// time.Time values are formatted with TimeLayout.
func Normalize(rec map[string]any) (Record, error) {
	if rec == nil {
		return nil, nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case time.Time:
		return FormatTime(val), nil
	case Record:
		n, err := Normalize(val)
		if err != nil {
			return nil, err
		}
		return map[string]any(n), nil
	case map[string]any:
		n, err := Normalize(val)
		if err != nil {
			return nil, err
		}
		return map[string]any(n), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			nv, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}

	// Anything else (structs, typed slices, typed maps) goes through JSON.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// PrepareForSave validates and normalizes rec for persistence. It assigns an
// id when absent, stamps created_at (preserving a caller-supplied value) and
// updated_at, and strips the _ttl field, returning its duration.
func PrepareForSave(backend string, rec map[string]any, now time.Time) (Record, time.Duration, error) {
	if rec == nil {
		return nil, 0, NewValidationError(backend, "save", "record cannot be nil")
	}
	out, err := Normalize(rec)
	if err != nil {
		return nil, 0, NewValidationError(backend, "save", err.Error())
	}

	switch id := out[FieldID].(type) {
	case nil:
		out[FieldID] = NewID()
	case string:
		if id == "" {
			out[FieldID] = NewID()
		} else if err := ValidateID(id); err != nil {
			return nil, 0, NewValidationError(backend, "save", err.Error())
		}
	default:
		return nil, 0, NewValidationError(backend, "save", "id must be a string")
	}

	var ttl time.Duration
	if raw, ok := out[FieldTTL]; ok {
		delete(out, FieldTTL)
		secs, ok := raw.(float64)
		if !ok || secs < 0 {
			return nil, 0, NewValidationError(backend, "save", "_ttl must be a non-negative number of seconds")
		}
		ttl = time.Duration(secs * float64(time.Second))
	}

	stamp := FormatTime(now)
	if s, ok := out[FieldCreatedAt].(string); !ok || s == "" {
		out[FieldCreatedAt] = stamp
	} else if t, err := ParseTime(s); err != nil {
		return nil, 0, NewValidationError(backend, "save", "created_at is not a valid timestamp")
	} else {
		out[FieldCreatedAt] = FormatTime(t)
	}
	out[FieldUpdatedAt] = stamp

	return out, ttl, nil
}

// Merge applies partial onto a copy of existing. The id and created_at of
// existing are preserved and updated_at is bumped.
func Merge(backend string, existing Record, partial map[string]any, now time.Time) (Record, error) {
	patch, err := Normalize(partial)
	if err != nil {
		return nil, NewValidationError(backend, "update", err.Error())
	}
	if id, ok := patch[FieldID]; ok && id != existing[FieldID] {
		return nil, NewValidationError(backend, "update", "id cannot be changed")
	}
	delete(patch, FieldTTL)

	merged := existing.Clone()
	for k, v := range patch {
		if k == FieldCreatedAt {
			continue
		}
		merged[k] = v
	}
	merged[FieldUpdatedAt] = FormatTime(now)
	return merged, nil
}

// ValidateID rejects ids that cannot be used safely as file names.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("id exceeds 255 characters")
	}
	if id == "." || id == ".." || id[0] == '.' {
		return fmt.Errorf("id %q cannot start with a dot", id)
	}
	for _, c := range id {
		if c == '/' || c == '\\' || c == 0 || c < 0x20 {
			return fmt.Errorf("id %q contains an invalid character", id)
		}
	}
	return nil
}

// toFloat converts a normalized numeric value to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
