package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting JSON
// strings, numbers and booleans. Numbers keep their literal text so 64-bit
// identifiers are not rounded through float64. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleInt64 parses identifiers exported either as numbers or as numeric
// strings (the "id" / "id_str" duality of tweet exports).
// Returns false when the value is absent or not an integer.
func FlexibleInt64(raw json.RawMessage) (int64, bool) {
	s := strings.TrimSpace(FlexibleStringValue(raw))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FirstInt64 returns the first of the given raw values that parses as an integer.
func FirstInt64(raws ...json.RawMessage) (int64, bool) {
	for _, raw := range raws {
		if v, ok := FlexibleInt64(raw); ok {
			return v, true
		}
	}
	return 0, false
}
