package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

var (
	errMissing    = errors.New("missing field")
	errNotNumeric = errors.New("not numeric")
)

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asList treats a single object as a one-element list, since vendors send
// either shape for summary blocks.
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		return []any{t}
	}
	return nil
}

// str returns the first non-empty value among keys, rendered as a string.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// first returns the first present value among keys.
func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toFloat64(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, errMissing
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumeric, n)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errNotNumeric, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %T", errNotNumeric, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", errNotNumeric, f)
	}
	return f, nil
}

func toInt64(v any) (int64, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f)), nil
}

// number reads a numeric field, reporting which key was missing.
func number(m map[string]any, keys ...string) (float64, error) {
	v, ok := first(m, keys...)
	if !ok {
		return 0, fmt.Errorf("%w %s", errMissing, strings.Join(keys, "|"))
	}
	return toFloat64(v)
}

func integer(m map[string]any, keys ...string) (int64, error) {
	v, ok := first(m, keys...)
	if !ok {
		return 0, fmt.Errorf("%w %s", errMissing, strings.Join(keys, "|"))
	}
	return toInt64(v)
}

// numberOr reads a numeric field, using def when the field is absent.
func numberOr(m map[string]any, def float64, keys ...string) (float64, error) {
	if _, ok := first(m, keys...); !ok {
		return def, nil
	}
	return number(m, keys...)
}

// integerOr reads an integer field, using def when the field is absent.
func integerOr(m map[string]any, def int64, keys ...string) (int64, error) {
	if _, ok := first(m, keys...); !ok {
		return def, nil
	}
	return integer(m, keys...)
}

// stage resolves a stage given as a label or an integer code.
func stage(v any) (event.Stage, error) {
	switch s := v.(type) {
	case nil:
		return "", fmt.Errorf("%w stage", errMissing)
	case string:
		if st, ok := event.ParseStage(s); ok {
			return st, nil
		}
		if code, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			if st, ok := event.StageFromCode(code); ok {
				return st, nil
			}
		}
		return "", fmt.Errorf("unknown sleep stage %q", s)
	}
	code, err := toInt64(v)
	if err != nil {
		return "", err
	}
	st, ok := event.StageFromCode(int(code))
	if !ok {
		return "", fmt.Errorf("unknown sleep stage code %d", code)
	}
	return st, nil
}

// device builds a descriptor from a payload's device object, falling back to
// def when the payload has none.
func device(v any, def *event.Device) *event.Device {
	m, ok := asMap(v)
	if !ok {
		return def
	}
	d := &event.Device{
		Vendor: str(m, "vendor", "manufacturer"),
		Model:  str(m, "model"),
		ID:     str(m, "id"),
	}
	if d.IsZero() {
		return def
	}
	return d
}
