package fixtures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/msgvis/msgvis/pkg/apperrors"
)

// Time layouts: the Django serializer writes ISO 8601 in UTC with "Z" and
// millisecond precision; naive timestamps are read as UTC.
const (
	timeLayout       = "2006-01-02T15:04:05Z07:00"
	timeLayoutMillis = "2006-01-02T15:04:05.000Z07:00"
)

var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// encodeValue converts a value scanned from the database into fixture JSON.
func encodeValue(field *Field, v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}

	switch field.Kind {
	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %s: expected time, got %T", field.Name, v)
		}
		t = t.UTC()
		layout := timeLayout
		if t.Nanosecond() != 0 {
			layout = timeLayoutMillis
		}
		return json.Marshal(t.Format(layout))
	case KindInt, KindForeignKey:
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		return json.RawMessage(strconv.FormatInt(n, 10)), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("field %s: expected bool, got %T", field.Name, v)
		}
		return json.Marshal(b)
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %s: expected string, got %T", field.Name, v)
		}
		return json.Marshal(s)
	}
}

// decodeValue converts fixture JSON into a SQL argument for the field's column.
func decodeValue(field *Field, raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		if field.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: field %s cannot be null", apperrors.ErrInvalidFixture, field.Name)
	}

	switch field.Kind {
	case KindTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: field %s: expected time string", apperrors.ErrInvalidFixture, field.Name)
		}
		t, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", apperrors.ErrInvalidFixture, field.Name, err)
		}
		return t, nil
	case KindInt, KindForeignKey:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: expected integer, got %s", apperrors.ErrInvalidFixture, field.Name, raw)
		}
		return n, nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: field %s: expected bool, got %s", apperrors.ErrInvalidFixture, field.Name, raw)
		}
		return b, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: field %s: expected string, got %s", apperrors.ErrInvalidFixture, field.Name, raw)
		}
		return s, nil
	}
}

// decodeIDs parses a many-to-many field: a JSON list of primary keys.
func decodeIDs(name string, raw json.RawMessage) ([]int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: field %s: expected list of ids", apperrors.ErrInvalidFixture, name)
	}
	return ids, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
