package normalizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Offset-less layouts are read as UTC.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseInstant resolves the vendor timestamp formats seen in payloads:
// RFC 3339, offset-less date-times, bare dates and epoch seconds.
func parseInstant(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w timestamp", errMissing)
	case string:
		return parseInstantString(t)
	case float64, json.Number, int, int64:
		secs, err := toFloat64(t)
		if err != nil {
			return time.Time{}, err
		}
		return epochSeconds(secs), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

func parseInstantString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w timestamp", errMissing)
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return epochSeconds(secs), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func epochSeconds(secs float64) time.Time {
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac).UTC()
}

// combineDateTime joins a calendar date with a time of day, both without
// offsets, into a UTC instant. "HH:MM" is padded with seconds.
func combineDateTime(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("%w date or time", errMissing)
	}
	if strings.Count(clock, ":") == 1 {
		clock += ":00"
	}
	return time.ParseInLocation("2006-01-02T15:04:05", date+"T"+clock, time.UTC)
}
