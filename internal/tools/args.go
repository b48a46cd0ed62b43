package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args is the schema-less input of one tool call. Each handler coerces
// the fields it needs.
type Args map[string]any

// ParseArgs decodes raw tool arguments. Anything that is not a JSON
// object, including malformed input, yields empty Args.
func ParseArgs(raw string) Args {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Args{}
	}
	var args Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return Args{}
	}
	return args
}

// Has reports whether key is present and non-null.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns key as trimmed text. Numbers are formatted; other
// types yield "".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Int returns key as a whole number. ok is false when the key is
// absent; err is set when it is present but not a whole number.
func (a Args) Int(key string) (n int64, ok bool, err error) {
	if !a.Has(key) {
		return 0, false, nil
	}
	switch v := a[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, true, fmt.Errorf("%s must be a whole number", key)
		}
		if v < -(1<<63) || v >= 1<<63 {
			return 0, true, fmt.Errorf("%s is out of range", key)
		}
		return int64(v), true, nil
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(v), "#")
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a whole number, got %q", key, v)
		}
		return n, true, nil
	}
	return 0, true, fmt.Errorf("%s must be a whole number", key)
}

// RequireInt is Int for required fields.
func (a Args) RequireInt(key string) (int64, error) {
	n, ok, err := a.Int(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	return n, nil
}

// Float returns key as a finite number. Numeric strings, with an
// optional leading currency symbol, are accepted.
func (a Args) Float(key string) (f float64, ok bool, err error) {
	if !a.Has(key) {
		return 0, false, nil
	}
	switch v := a[key].(type) {
	case float64:
		f = v
	case string:
		s := strings.TrimLeft(strings.TrimSpace(v), "$€£")
		s = strings.ReplaceAll(s, ",", "")
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a number, got %q", key, v)
		}
	default:
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, true, fmt.Errorf("%s must be a finite number", key)
	}
	return f, true, nil
}

// Price returns key formatted the way the backend expects prices.
// Negative values are rejected.
func (a Args) Price(key string) (string, bool, error) {
	f, ok, err := a.Float(key)
	if !ok || err != nil {
		return "", ok, err
	}
	if f < 0 {
		return "", true, fmt.Errorf("%s cannot be negative", key)
	}
	return strconv.FormatFloat(f, 'f', 2, 64), true, nil
}

// Bool returns key as a boolean. "true", "yes" and "1" count as true.
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return v != 0
	}
	return false
}

// IntList returns key as a list of whole numbers. A single number is
// treated as a one-element list.
func (a Args) IntList(key string) ([]int64, error) {
	if !a.Has(key) {
		return nil, nil
	}
	raw, ok := a[key].([]any)
	if !ok {
		n, err := a.RequireInt(key)
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	}
	out := make([]int64, 0, len(raw))
	for i, v := range raw {
		n, _, err := Args{"item": v}.Int("item")
		if err != nil {
			return nil, fmt.Errorf("%s[%d] must be a whole number", key, i)
		}
		out = append(out, n)
	}
	return out, nil
}

// JSON returns the canonical encoding of a, "{}" when empty.
func (a Args) JSON() json.RawMessage {
	if len(a) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
